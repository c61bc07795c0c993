// Package storesync seeds the resource store from a release bundle before
// the server starts.
//
// The current bundle is named by its sha256 in an SSM parameter. The bundle
// itself is s3://<bucket>/<prefix>/<sha256>.tar.gz, optionally with a
// detached KMS signature next to it (<key>.sig). A verified bundle is
// extracted once into <storeRoot>/<sha256>/ and marked complete; later
// starts with the same hash reuse that directory without touching S3.
//
// The store is never swapped while serving: resources are read from disk on
// every request, so a new bundle only takes effect on restart.
package storesync
