package storesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/afero"

	"github.com/Tener/ggp-aps/internal/log"
)

var ErrInvalidOptions = errors.New("storesync: invalid options")

// ParamGetter is satisfied by *ssm.Client.
type ParamGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ObjectGetter is satisfied by *s3.Client.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// SignatureVerifier is satisfied by *cryptoutil.KMSVerifier.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, message, signature []byte) error
}

// Recorder receives sync metrics; *metrics.ServerMetrics satisfies it.
type Recorder interface {
	ObserveStoreSyncDuration(seconds float64)
	IncStoreSyncError(stage string)
}

type Limits struct {
	Bundle int64 // compressed bundle
	File   int64 // single extracted file
	Total  int64 // all extracted files
}

var DefaultLimits = Limits{
	Bundle: 256 << 20,
	File:   32 << 20,
	Total:  1 << 30,
}

type Options struct {
	Logger log.Logger

	SSMParam string
	S3Bucket string
	S3Prefix string

	Params  ParamGetter
	Objects ObjectGetter

	// Verifier is optional. When set, every bundle must carry a valid
	// detached signature.
	Verifier SignatureVerifier

	// Recorder is optional.
	Recorder Recorder

	// FS receives the extracted tree. Default: the OS filesystem.
	FS afero.Fs

	Limits Limits // zero fields take DefaultLimits
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.FS == nil {
		o.FS = afero.NewOsFs()
	}
	if o.Limits.Bundle <= 0 {
		o.Limits.Bundle = DefaultLimits.Bundle
	}
	if o.Limits.File <= 0 {
		o.Limits.File = DefaultLimits.File
	}
	if o.Limits.Total <= 0 {
		o.Limits.Total = DefaultLimits.Total
	}
}

func (o *Options) validate() error {
	switch {
	case o.SSMParam == "":
		return fmt.Errorf("%w: SSMParam is required", ErrInvalidOptions)
	case o.S3Bucket == "":
		return fmt.Errorf("%w: S3Bucket is required", ErrInvalidOptions)
	case o.Params == nil:
		return fmt.Errorf("%w: Params client is nil", ErrInvalidOptions)
	case o.Objects == nil:
		return fmt.Errorf("%w: Objects client is nil", ErrInvalidOptions)
	}
	return nil
}
