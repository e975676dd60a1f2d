// Package request parses the first line a client sends to the proxy.
//
// HTTP clients send a request line ("METHOD URL VERSION"); SOCKS clients send a
// single version byte. Both are represented as a Request so the accept loops
// can dispatch on what arrived.
package request
