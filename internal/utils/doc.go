// Package utils holds request validation shared by the HTTP surface.
//
// BodyValidator bounds the size and nesting depth of a JSON body before it
// is bound into a request struct, so a process call cannot make the server
// decode an arbitrarily large or deep document.
package utils
