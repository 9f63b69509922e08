package props

import (
	"context"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/headerguard/internal/xerrors"
)

// SSMFetcher reads every parameter under a path, e.g. /app/headerguard/props,
// keyed by the last path element (/app/headerguard/props/policy -> policy).
// Two parameters with the same last element fail the fetch, since which one
// wins would depend on page order.
type SSMFetcher struct {
	client ssm.GetParametersByPathAPIClient
	path   string
}

func NewSSMFetcher(client ssm.GetParametersByPathAPIClient, paramPath string) (*SSMFetcher, error) {
	if client == nil {
		return nil, xerrors.New("ssm client is required")
	}
	if !strings.HasPrefix(paramPath, "/") {
		return nil, xerrors.Newf("ssm path %q must start with /", paramPath)
	}
	return &SSMFetcher{client: client, path: strings.TrimSuffix(paramPath, "/")}, nil
}

func (f *SSMFetcher) Name() string { return "ssm" }

func (f *SSMFetcher) Fetch(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	from := make(map[string]string)
	pages := ssm.NewGetParametersByPathPaginator(f.client, &ssm.GetParametersByPathInput{
		Path:           aws.String(f.path),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, xerrors.Wrapf(err, "get ssm parameters by path %s", f.path)
		}
		for _, p := range page.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			key := path.Base(*p.Name)
			if prev, dup := from[key]; dup {
				return nil, xerrors.Newf("ssm parameters %s and %s both map to property %q", prev, *p.Name, key)
			}
			from[key] = *p.Name
			out[key] = strings.TrimSpace(*p.Value)
		}
	}
	return out, nil
}
