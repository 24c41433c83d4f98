/*
Package api is the HTTP ingress of the correlator.

Monitoring tools push events to POST /event/ and operators resolve
tickets through POST /resolve/. Both endpoints only record an ingress
log row and enqueue the processing task after the insert commits, so
the request path stays fast and nothing that reached the correlator is
lost when a worker is down.

GET /event/{index}/{id} exposes the stored document for debugging, and
/healthz and /metrics serve the operational surface.
*/
package api
