package azdirectory

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue/queueerror"

	"github.com/atsika/meshplane"
)

const directoryChangeQueueName = "meshplanenodechanges"

// ChangeNotifier posts a lightweight "node changed" notice to an Azure
// Queue whenever an entry is published or removed, so pollers that would
// rather wait on a queue than re-list a whole directory can do so. It
// wraps any Directory and is itself a Directory.
type ChangeNotifier struct {
	Directory
	queue *azqueue.QueueClient
}

// NewChangeNotifier opens (and creates if missing) the change queue at ep
// and wraps inner so every Publish/Remove also enqueues a notice.
func NewChangeNotifier(ctx context.Context, ep *Endpoint, inner Directory) (*ChangeNotifier, error) {
	cred, err := azqueue.NewSharedKeyCredential(ep.Account, ep.Key)
	if err != nil {
		return nil, fmt.Errorf("azdirectory: shared key credential: %w", err)
	}
	service, err := azqueue.NewServiceClientWithSharedKeyCredential(ep.ServiceURL(), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azdirectory: queue service client: %w", err)
	}
	client := service.NewQueueClient(directoryChangeQueueName)
	if _, err := client.Create(ctx, nil); err != nil && !queueerror.HasCode(err, queueerror.QueueAlreadyExists) {
		return nil, err
	}
	return &ChangeNotifier{Directory: inner, queue: client}, nil
}

func (n *ChangeNotifier) Publish(ctx context.Context, entry DirectoryEntry) error {
	if err := n.Directory.Publish(ctx, entry); err != nil {
		return err
	}
	_, err := n.queue.EnqueueMessage(ctx, "changed:"+entry.Addr.NodeId.String(), nil)
	return err
}

func (n *ChangeNotifier) Remove(ctx context.Context, id meshplane.NodeId) error {
	if err := n.Directory.Remove(ctx, id); err != nil {
		return err
	}
	_, err := n.queue.EnqueueMessage(ctx, "removed:"+id.String(), nil)
	return err
}

// WaitForChange dequeues at most one change notice and reports its raw
// text ("changed:<id>" or "removed:<id>"). It does not wait for a notice:
// when the queue is empty it returns an empty string and a nil error.
func (n *ChangeNotifier) WaitForChange(ctx context.Context) (string, error) {
	resp, err := n.queue.DequeueMessage(ctx, nil)
	if err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 {
		return "", nil
	}
	msg := resp.Messages[0]
	if msg.MessageText != nil {
		_, _ = n.queue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil)
		return *msg.MessageText, nil
	}
	return "", nil
}
