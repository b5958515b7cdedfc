package nodealias

import (
	"context"
	"testing"
	"time"
)

func TestRegisterUnregisterQueueActions(t *testing.T) {
	s := NewNodeAliasSdk()
	s.Register(NodeAliasId(1))
	s.Unregister(NodeAliasId(2))

	actions := s.drainActions()
	if len(actions) != 2 {
		t.Fatalf("expected 2 queued actions, got %d", len(actions))
	}
	if actions[0].kind != actRegister || actions[0].alias != NodeAliasId(1) {
		t.Fatalf("unexpected first action: %+v", actions[0])
	}
	if actions[1].kind != actUnregister || actions[1].alias != NodeAliasId(2) {
		t.Fatalf("unexpected second action: %+v", actions[1])
	}

	if rest := s.drainActions(); len(rest) != 0 {
		t.Fatalf("expected drainActions to empty the queue, got %d left", len(rest))
	}
}

func TestFindResolvedByBehavior(t *testing.T) {
	s := NewNodeAliasSdk()

	done := make(chan NodeAliasResult, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := s.Find(context.Background(), NodeAliasId(10), 1000)
		done <- res
		errCh <- err
	}()

	time.Sleep(5 * time.Millisecond)
	actions := s.drainActions()
	if len(actions) != 1 || actions[0].kind != actFind {
		t.Fatalf("expected a single queued find action, got %+v", actions)
	}

	s.resolve(actions[0].reqId, NodeAliasResult{Owner: 4, Found: true}, nil)

	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := <-done
	if !res.Found || res.Owner != 4 {
		t.Fatalf("expected resolved owner 4, got %+v", res)
	}
}

func TestFindCancelledByContext(t *testing.T) {
	s := NewNodeAliasSdk()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Find(ctx, NodeAliasId(11), 1000)
		errCh <- err
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected context cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("Find did not return after context cancellation")
	}
}

func TestResolveUnknownReqIdIsNoop(t *testing.T) {
	s := NewNodeAliasSdk()
	s.resolve(999, NodeAliasResult{}, ErrTimeout)
}

func TestNodeAliasErrorMessages(t *testing.T) {
	if ErrTimeout.Error() == "" || ErrNetwork.Error() == "" {
		t.Fatal("expected non-empty error messages")
	}
}
