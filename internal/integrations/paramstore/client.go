package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ErrNotFound is returned when a named parameter does not exist.
var ErrNotFound = errors.New("paramstore: parameter not found")

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	GetParametersByPath(ctx context.Context, in *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// Getter reads one parameter by its full name.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// PathGetter reads every parameter below a path.
type PathGetter interface {
	GetParametersByPath(ctx context.Context, path string) (map[string]string, error)
}

// Reader is what the config loader needs; *Client satisfies it.
type Reader interface {
	Getter
	PathGetter
}

// Client wraps an AWS SSM API for parameter retrieval.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// GetParameter reads a single decrypted parameter. A missing parameter
// yields an error wrapping ErrNotFound.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	var missing *types.ParameterNotFound
	switch {
	case errors.As(err, &missing):
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	case err != nil:
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	case out == nil || out.Parameter == nil || out.Parameter.Value == nil:
		return "", fmt.Errorf("paramstore: parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

// GetParametersByPath reads all parameters directly below path, decrypted,
// following pagination. Keys of the result are the names relative to path.
func (c *Client) GetParametersByPath(ctx context.Context, path string) (map[string]string, error) {
	if c.api == nil {
		return nil, errors.New("paramstore: client not initialized")
	}
	path = "/" + strings.Trim(strings.TrimSpace(path), "/")
	if path == "/" {
		return nil, errors.New("paramstore: path is required")
	}

	out := map[string]string{}
	pages := ssm.NewGetParametersByPathPaginator(c.api, &ssm.GetParametersByPathInput{
		Path:           aws.String(path),
		WithDecryption: aws.Bool(true),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("paramstore: get parameters by path %q: %w", path, err)
		}
		for _, p := range page.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			out[strings.TrimPrefix(*p.Name, path+"/")] = *p.Value
		}
	}
	return out, nil
}
