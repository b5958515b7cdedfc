package azdirectory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/atsika/meshplane"
)

const directoryTableName = "meshplanenodes"

// TableDirectory stores one row per node in an Azure Table: PartitionKey
// is fixed ("node"), RowKey is the node id, and the row carries the
// encoded DirectoryEntry.
type TableDirectory struct {
	client *aztables.Client
}

// NewTableDirectory opens (and creates if missing) the directory table at
// ep using account key credentials.
func NewTableDirectory(ctx context.Context, ep *Endpoint) (*TableDirectory, error) {
	cred, err := aztables.NewSharedKeyCredential(ep.Account, ep.Key)
	if err != nil {
		return nil, fmt.Errorf("azdirectory: shared key credential: %w", err)
	}
	service, err := aztables.NewServiceClientWithSharedKey(ep.ServiceURL(), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azdirectory: service client: %w", err)
	}
	if _, err := service.CreateTable(ctx, directoryTableName, nil); err != nil {
		// AlreadyExists is fine; any other error is surfaced on first use.
	}
	return &TableDirectory{client: service.NewClient(directoryTableName)}, nil
}

type tableRow struct {
	PartitionKey string
	RowKey       string
	Entry        string
}

func (d *TableDirectory) Publish(ctx context.Context, entry DirectoryEntry) error {
	row := tableRow{
		PartitionKey: "node",
		RowKey:       entry.Addr.NodeId.String(),
		Entry:        encodeEntry(entry),
	}
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = d.client.UpsertEntity(ctx, data, nil)
	return err
}

func (d *TableDirectory) List(ctx context.Context) ([]DirectoryEntry, error) {
	pager := d.client.NewListEntitiesPager(nil)
	var entries []DirectoryEntry
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Entities {
			var row tableRow
			if json.Unmarshal(raw, &row) != nil {
				continue
			}
			entry, err := decodeEntry(row.Entry)
			if err != nil {
				continue
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (d *TableDirectory) Remove(ctx context.Context, id meshplane.NodeId) error {
	_, err := d.client.DeleteEntity(ctx, "node", id.String(), nil)
	if err != nil {
		if re, ok := err.(*azcore.ResponseError); ok && re.StatusCode == http.StatusNotFound {
			return nil
		}
	}
	return err
}
