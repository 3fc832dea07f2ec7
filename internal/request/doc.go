package request

// Package request parses the head of a proxied HTTP/1.x request far enough to
// route it.
//
// Parsing is pure: it never touches a socket. The result is a Descriptor
// carrying the method, the origin host and port, the headers as received, the
// keep-alive flag, and the raw bytes needed to replay the request verbatim.
