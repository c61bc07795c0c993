package storesync

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/afero"

	"github.com/Tener/ggp-aps/internal/cryptoutil"
	"github.com/Tener/ggp-aps/internal/xerrors"
)

// completeMarker is written last; a directory without it is a failed or
// interrupted extraction and is redone.
const completeMarker = ".complete"

// Sync stages, used as the metrics label.
const (
	StageParam     = "param"
	StageDownload  = "download"
	StageSignature = "signature"
	StageExtract   = "extract"
)

// Result describes the store that was synced.
type Result struct {
	Dir      string
	Hash     string
	Bytes    int64
	Reused   bool
	LoadedAt time.Time
}

// StoreHash makes *Result an httpmw.StoreInfo. Nil-safe.
func (r *Result) StoreHash() string {
	if r == nil {
		return ""
	}
	return r.Hash
}

type Loader struct {
	opts Options
}

func NewLoader(opts Options) (*Loader, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Loader{opts: opts}, nil
}

// FetchCurrentBundleHash reads the release hash from SSM.
func (l *Loader) FetchCurrentBundleHash(ctx context.Context) (string, error) {
	out, err := l.opts.Params.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", l.opts.SSMParam)
	}

	hash := strings.ToLower(strings.TrimSpace(*out.Parameter.Value))
	if !cryptoutil.IsSHA256Hex(hash) {
		return "", xerrors.Newf("SSM parameter %s is not a sha256 hex digest (%q)", l.opts.SSMParam, hash)
	}
	return hash, nil
}

func (l *Loader) bundleKey(hash string) string {
	if p := strings.Trim(l.opts.S3Prefix, "/"); p != "" {
		return p + "/" + hash + ".tar.gz"
	}
	return hash + ".tar.gz"
}

// Download fetches the bundle into memory and checks its sha256 against hash.
func (l *Loader) Download(ctx context.Context, hash string) ([]byte, error) {
	key := l.bundleKey(hash)
	l.opts.Logger.Info(ctx, "downloading resource bundle", "bucket", l.opts.S3Bucket, "key", key)

	data, actual, err := l.getObject(ctx, key, l.opts.Limits.Bundle)
	if err != nil {
		return nil, err
	}
	// hashes always go through HashEqual, even when not secret
	if !cryptoutil.HashEqual(actual, hash) {
		return nil, xerrors.Newf("checksum mismatch for %s: expected %s, got %s", key, hash, actual)
	}

	l.opts.Logger.Info(ctx, "downloaded resource bundle", "bytes", len(data), "sha256", actual)
	return data, nil
}

// VerifySignature fetches <key>.sig and checks it against data. It is a
// no-op without a Verifier.
func (l *Loader) VerifySignature(ctx context.Context, hash string, data []byte) error {
	if l.opts.Verifier == nil {
		return nil
	}
	key := l.bundleKey(hash) + ".sig"
	raw, _, err := l.getObject(ctx, key, 64<<10)
	if err != nil {
		return xerrors.Wrap(err, "fetch bundle signature")
	}
	sig, err := cryptoutil.DecodeSignature(raw)
	if err != nil {
		return xerrors.Wrapf(err, "signature %s", key)
	}
	if err := l.opts.Verifier.VerifySignature(ctx, data, sig); err != nil {
		return xerrors.Wrapf(err, "verify bundle %s", hash)
	}
	l.opts.Logger.Info(ctx, "resource bundle signature verified", "sha256", hash)
	return nil
}

func (l *Loader) getObject(ctx context.Context, key string, limit int64) ([]byte, string, error) {
	out, err := l.opts.Objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.opts.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "get s3://%s/%s", l.opts.S3Bucket, key)
	}
	defer out.Body.Close()

	hr := cryptoutil.NewHashingReader(io.LimitReader(out.Body, limit+1))
	data, err := io.ReadAll(hr)
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "read s3://%s/%s", l.opts.S3Bucket, key)
	}
	if int64(len(data)) > limit {
		return nil, "", xerrors.Newf("s3://%s/%s exceeds %d bytes", l.opts.S3Bucket, key, limit)
	}
	return data, hr.SumHex(), nil
}

// Sync makes the current release available under storeRoot and returns
// the directory to serve from.
func (l *Loader) Sync(ctx context.Context, storeRoot string) (*Result, error) {
	start := time.Now()
	res, stage, err := l.sync(ctx, storeRoot)
	if rec := l.opts.Recorder; rec != nil {
		if err != nil {
			rec.IncStoreSyncError(stage)
		} else {
			rec.ObserveStoreSyncDuration(time.Since(start).Seconds())
		}
	}
	return res, err
}

func (l *Loader) sync(ctx context.Context, storeRoot string) (*Result, string, error) {
	hash, err := l.FetchCurrentBundleHash(ctx)
	if err != nil {
		return nil, StageParam, err
	}

	dir := path.Join(storeRoot, hash)
	if ok, _ := afero.Exists(l.opts.FS, path.Join(dir, completeMarker)); ok {
		l.opts.Logger.Info(ctx, "resource bundle already extracted", "sha256", hash, "dir", dir)
		return &Result{Dir: dir, Hash: hash, Reused: true, LoadedAt: time.Now().UTC()}, "", nil
	}

	data, err := l.Download(ctx, hash)
	if err != nil {
		return nil, StageDownload, err
	}
	if err := l.VerifySignature(ctx, hash, data); err != nil {
		return nil, StageSignature, err
	}

	// leftovers of an interrupted extraction
	if err := l.opts.FS.RemoveAll(dir); err != nil {
		return nil, StageExtract, xerrors.Wrapf(err, "clear %s", dir)
	}
	n, err := extractTarGz(l.opts.FS, data, dir, l.opts.Limits)
	if err != nil {
		_ = l.opts.FS.RemoveAll(dir)
		return nil, StageExtract, xerrors.Wrapf(err, "extract bundle %s", hash)
	}
	marker := fmt.Sprintf("%s\n", hash)
	if err := afero.WriteFile(l.opts.FS, path.Join(dir, completeMarker), []byte(marker), 0o644); err != nil {
		_ = l.opts.FS.RemoveAll(dir)
		return nil, StageExtract, xerrors.Wrap(err, "write completion marker")
	}

	l.opts.Logger.Info(ctx, "extracted resource bundle", "sha256", hash, "dir", dir, "bytes", n)
	return &Result{Dir: dir, Hash: hash, Bytes: n, LoadedAt: time.Now().UTC()}, "", nil
}
