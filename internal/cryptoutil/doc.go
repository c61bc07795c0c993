// Package cryptoutil verifies synced resource bundles: sha256 helpers and
// KMS-backed signature checks (ECDSA P-256/P-384, RSA-PSS with optional
// PKCS1v15 fallback) done locally against a cached public key.
package cryptoutil
