// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, role)
//	httputil.WriteBadRequest(w, "invalid permission")
//	httputil.WriteForbidden(w, "forbidden")
//
// Error bodies have the shape {"error": "...", "request_id": "..."}.
//
// # Request Parsing
//
//	var req CreateRoleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestID,
//		httputil.RequestLogger(logger),
//		httputil.Recovery(logger),
//		httputil.TrustedHeaderPrincipal("X-User-ID"),
//		httputil.MaxBytes(1<<20),
//	)
package httputil
