// Package signature authenticates inbound webhook calls.
//
// The platform signs every call by sorting the shared token, the timestamp
// and the nonce, concatenating them and taking the lowercase hex SHA-1 of the
// result. The signature travels in the query string next to its inputs:
//
//	GET /wechat?signature=...&timestamp=1744100071&nonce=952645420&echostr=...
//
// Verifier.Handshake answers the endpoint ownership check by echoing echostr,
// and Verifier.VerifyRequest guards message deliveries. Callers verify before
// reading the body so an unauthenticated payload is never parsed.
//
// Optional replay protection rejects timestamps further than
// Config.TimestampTolerance from the local clock.
package signature
