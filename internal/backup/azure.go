package backup

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureConfig selects a container and prefix for snapshots. SASURL is the
// account URL with a SAS token granting read, write and list.
type AzureConfig struct {
	SASURL    string `koanf:"sas_url"`
	Container string `koanf:"container"`
	Prefix    string `koanf:"prefix"`
}

// NewAzureSink builds a blob client on httpClient and wraps it as a sink.
func NewAzureSink(cfg AzureConfig, httpClient *nethttp.Client) (*ObjectSink, error) {
	if cfg.SASURL == "" || cfg.Container == "" {
		return nil, fmt.Errorf("azure SAS URL and container are required")
	}

	var clientOpts *azblob.ClientOptions
	if httpClient != nil {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{Transport: httpClient},
		}
	}
	client, err := azblob.NewClientWithNoCredential(cfg.SASURL, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	return newObjectSink("azure", &azureObjects{
		client:     client,
		container:  cfg.Container,
		accountURL: accountURL(cfg.SASURL),
	}, cfg.Prefix), nil
}

// accountURL strips the SAS query so locations never leak the token.
func accountURL(sasURL string) string {
	u, err := url.Parse(sasURL)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/")
}

type azureObjects struct {
	client     *azblob.Client
	container  string
	accountURL string
}

func (o *azureObjects) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	meta := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		// Azure metadata names must be C# identifiers.
		meta[strings.ReplaceAll(k, "-", "_")] = to.Ptr(v)
	}
	_, err := o.client.UploadBuffer(ctx, o.container, key, data, &azblob.UploadBufferOptions{
		Metadata: meta,
	})
	return err
}

func (o *azureObjects) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := o.client.DownloadStream(ctx, o.container, key, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (o *azureObjects) List(ctx context.Context, prefix string) ([]objectEntry, error) {
	var entries []objectEntry
	pager := o.client.NewListBlobsFlatPager(o.container, &azblob.ListBlobsFlatOptions{
		Prefix:  to.Ptr(prefix),
		Include: azblob.ListBlobsInclude{Metadata: true},
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list container %s: %w", o.container, err)
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			entry := objectEntry{Key: *item.Name, Metadata: make(map[string]string, len(item.Metadata))}
			if item.Properties != nil && item.Properties.LastModified != nil {
				entry.LastModified = *item.Properties.LastModified
			}
			for k, v := range item.Metadata {
				if v != nil {
					entry.Metadata[strings.ReplaceAll(k, "_", "-")] = *v
				}
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (o *azureObjects) Location(key string) string {
	return fmt.Sprintf("%s/%s/%s", o.accountURL, o.container, key)
}
