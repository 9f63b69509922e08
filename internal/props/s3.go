package props

import (
	"context"
	"io"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/headerguard/internal/cryptoutil"
	"github.com/keithlinneman/headerguard/internal/xerrors"
)

// maxDescriptorBytes bounds descriptor and signature downloads.
const maxDescriptorBytes = 1 << 20

// S3API is the subset of the S3 client the descriptor loader uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// SignatureVerifier checks a detached signature over a descriptor.
// Implemented by *cryptoutil.KMSVerifier.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, message, signature []byte) error
}

type S3DescriptorOptions struct {
	Client S3API
	URI    string // s3://bucket/key.yaml

	// Verifier, when set, requires a <key>.sig object holding a raw
	// signature over the descriptor bytes.
	Verifier SignatureVerifier
}

// S3Descriptor fetches a descriptor document from S3. It implements Fetcher
// so a Poller can keep a Snapshot in sync with the object.
type S3Descriptor struct {
	client   S3API
	bucket   string
	key      string
	format   string
	verifier SignatureVerifier

	lastDigest atomic.Pointer[string]
}

func NewS3Descriptor(opts S3DescriptorOptions) (*S3Descriptor, error) {
	if opts.Client == nil {
		return nil, xerrors.New("s3 client is required")
	}
	bucket, key, err := ParseS3URI(opts.URI)
	if err != nil {
		return nil, err
	}
	format, err := FormatFromPath(key)
	if err != nil {
		return nil, err
	}
	return &S3Descriptor{
		client:   opts.Client,
		bucket:   bucket,
		key:      key,
		format:   format,
		verifier: opts.Verifier,
	}, nil
}

// ParseS3URI splits s3://bucket/path/to/key into bucket and key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", xerrors.Wrapf(err, "parse s3 uri %q", uri)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Scheme != "s3" || u.Host == "" || key == "" {
		return "", "", xerrors.Newf("invalid s3 uri %q (want s3://bucket/key)", uri)
	}
	return u.Host, key, nil
}

func (d *S3Descriptor) Name() string { return "s3://" + d.bucket + "/" + d.key }

// Fetch downloads, verifies and parses the descriptor.
func (d *S3Descriptor) Fetch(ctx context.Context) (map[string]string, error) {
	body, err := d.get(ctx, d.key)
	if err != nil {
		return nil, err
	}

	if d.verifier != nil {
		sig, err := d.get(ctx, d.key+".sig")
		if err != nil {
			return nil, xerrors.Wrap(err, "fetch descriptor signature")
		}
		if err := d.verifier.VerifySignature(ctx, body, sig); err != nil {
			return nil, xerrors.Wrapf(err, "verify descriptor signature for %s", d.Name())
		}
	}

	props, err := ParseDescriptor(d.format, body)
	if err != nil {
		return nil, err
	}
	digest := cryptoutil.SHA256Hex(body)
	d.lastDigest.Store(&digest)
	return props, nil
}

// Digest is the SHA-256 of the last descriptor that parsed successfully.
func (d *S3Descriptor) Digest() string {
	if p := d.lastDigest.Load(); p != nil {
		return *p
	}
	return ""
}

func (d *S3Descriptor) get(ctx context.Context, key string) ([]byte, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get s3://%s/%s", d.bucket, key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxDescriptorBytes+1))
	if err != nil {
		return nil, xerrors.Wrapf(err, "read s3://%s/%s", d.bucket, key)
	}
	if len(data) > maxDescriptorBytes {
		return nil, xerrors.Newf("s3://%s/%s exceeds %d byte descriptor limit", d.bucket, key, maxDescriptorBytes)
	}
	return data, nil
}
