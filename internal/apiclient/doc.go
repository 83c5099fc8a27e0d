/*
Package apiclient is the HTTP client for the CampaignMaster backend API.

GET requests are cache-first: a live response cached under the full request
URL is returned without a network call. On a miss the request runs under
the client timeout (10s by default); exceeding it yields a 408
REQUEST_TIMEOUT error. A 2xx JSON response is cached for CacheTTL and
tagged "api". An HTML response is reported as AUTHENTICATION_REQUIRED
(401). Any other body is returned in Response.Text and not cached.

Non-2xx responses are never cached. They produce an UPSTREAM_STATUS error
whose message comes from the body's "message" field when present, and
whose parsed body is available through Details.

POST, PUT, PATCH and DELETE never read or write the cache. Pass
WithInvalidate to drop related cached GETs after a successful mutation:

	_, err := client.Post(ctx, "/campaigns", campaign, apiclient.WithInvalidate("/campaigns"))

Requests pass through a circuit breaker that counts transport failures and
5xx responses. GETs are retried per Config.Retry, which defaults to a
single attempt. With Config.Coalesce set, concurrent misses for the same
URL share one request.

Every recorder passed with WithRecorder sees each request; a metrics
collector and a health tracker can observe the same client.
*/
package apiclient
