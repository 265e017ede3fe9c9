// Package httputil holds the JSON response and request helpers shared by
// the authd HTTP handlers.
//
// Error bodies always have the shape {"error": "..."}. WriteError hides the
// message of 5xx errors:
//
//	httputil.WriteError(w, http.StatusBadGateway, err) // {"error":"Bad Gateway"}
//
// Request bodies are capped at MaxBodyBytes:
//
//	var req loginRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 400 already written
//	}
package httputil
