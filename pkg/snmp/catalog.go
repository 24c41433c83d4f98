package snmp

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Vaayujeet/encore/pkg/types"
)

// Catalog maps trap OIDs to readable field names. It stands in for a
// full MIB tree: only the objects the monitored estate actually sends
// need an entry, everything else keeps its numeric OID.
type Catalog map[string]string

// Well-known objects every v2c trap carries.
var defaultCatalog = Catalog{
	"1.3.6.1.2.1.1.3.0":     "sysUpTime",
	"1.3.6.1.6.3.1.1.4.1.0": "snmpTrapOID",
	"1.3.6.1.6.3.1.1.4.3.0": "snmpTrapEnterprise",
	"1.3.6.1.6.3.18.1.3.0":  "snmpTrapAddress",
	"1.3.6.1.6.3.18.1.4.0":  "snmpTrapCommunity",
}

// LoadCatalog returns the default catalog, extended and overridden by
// the JSON object file at path when one is configured.
func LoadCatalog(path string) (Catalog, error) {
	catalog := make(Catalog, len(defaultCatalog))
	for oid, name := range defaultCatalog {
		catalog[oid] = name
	}
	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading OID catalog: %w", err)
	}
	var extra map[string]string
	if err := json.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("parsing OID catalog %s: %w", path, err)
	}
	for oid, name := range extra {
		catalog[strings.Trim(oid, ".")] = name
	}
	return catalog, nil
}

// Name resolves an OID to its catalog name. Unknown instance OIDs fall
// back to their object entry (the OID minus the trailing instance
// index); anything still unknown keeps the numeric OID.
func (c Catalog) Name(oid string) string {
	oid = strings.Trim(oid, ".")
	if name, ok := c[oid]; ok {
		return types.SanitizeKey(name)
	}
	if i := strings.LastIndex(oid, "."); i > 0 {
		if name, ok := c[oid[:i]]; ok {
			return types.SanitizeKey(name)
		}
	}
	return types.SanitizeKey(oid)
}
