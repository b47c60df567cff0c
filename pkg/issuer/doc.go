// Package issuer mints per-domain leaf certificates signed by the root CA.
//
// Every leaf goes through a certificate signing request: the fresh leaf key
// signs a CSR naming {domain, *.domain}, the CSR signature is checked, and
// the root signs a certificate whose public key, subject and
// subjectAltName are taken from that CSR. The result carries the leaf
// PEM, the PKCS#8 key PEM and the leaf-then-root chain PEM.
package issuer
