package azdirectory

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/atsika/meshplane"
)

const directoryContainerName = "meshplanenodes"

// BlobDirectory stores one blob per node (blob name == node id), each
// holding the node's encoded DirectoryEntry. Cheaper to operate than
// TableDirectory for small deployments that already have a storage
// account but no table service enabled.
type BlobDirectory struct {
	client *azblob.Client
}

// NewBlobDirectory opens (and creates if missing) the directory container
// at ep using account key credentials.
func NewBlobDirectory(ctx context.Context, ep *Endpoint) (*BlobDirectory, error) {
	cred, err := azblob.NewSharedKeyCredential(ep.Account, ep.Key)
	if err != nil {
		return nil, fmt.Errorf("azdirectory: shared key credential: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(ep.ServiceURL(), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azdirectory: blob client: %w", err)
	}
	if _, err := client.CreateContainer(ctx, directoryContainerName, nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, err
	}
	return &BlobDirectory{client: client}, nil
}

func (d *BlobDirectory) Publish(ctx context.Context, entry DirectoryEntry) error {
	blobName := entry.Addr.NodeId.String()
	body := []byte(encodeEntry(entry))
	_, err := d.client.UploadBuffer(ctx, directoryContainerName, blobName, body, nil)
	return err
}

func (d *BlobDirectory) List(ctx context.Context) ([]DirectoryEntry, error) {
	pager := d.client.NewListBlobsFlatPager(directoryContainerName, nil)
	var entries []DirectoryEntry
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			resp, err := d.client.DownloadStream(ctx, directoryContainerName, *item.Name, nil)
			if err != nil {
				continue
			}
			raw, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				continue
			}
			entry, err := decodeEntry(string(bytes.TrimSpace(raw)))
			if err != nil {
				continue
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (d *BlobDirectory) Remove(ctx context.Context, id meshplane.NodeId) error {
	_, err := d.client.DeleteBlob(ctx, directoryContainerName, id.String(), nil)
	if err != nil {
		if re, ok := err.(*azcore.ResponseError); ok && re.StatusCode == 404 {
			return nil
		}
	}
	return err
}
