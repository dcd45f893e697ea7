// Package tlsroots loads TLS material from PEM files.
//
//   - Pool: trusted CAs for outbound connections, such as an S3 endpoint
//     signed by a private CA
//   - KeyPair: a server certificate that is reloaded when its files change
package tlsroots
