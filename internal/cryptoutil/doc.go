// Package cryptoutil verifies detached signatures made with AWS KMS
// asymmetric keys. Verification happens locally against the cached public
// key, so KMS is only called once per key.
package cryptoutil
