package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"papyrus/api/internal/store"
)

func TestSetLinkReach(t *testing.T) {
	fs := grantRoles(singleNode(store.Node{ID: "doc1", Path: "0I00000", LinkReach: "restricted"}), "alice", "administrator")
	var gotReach string
	fs.updateLinkReachFn = func(_ context.Context, _, reach string) error {
		gotReach = reach
		return nil
	}
	svc := newTestService(fs)

	doc, err := svc.SetLinkReach(context.Background(), alice, "doc1", "public")
	if err != nil {
		t.Fatalf("set link reach: %v", err)
	}
	if gotReach != "public" || doc.LinkReach != "public" {
		t.Fatalf("reach not applied: store=%q doc=%q", gotReach, doc.LinkReach)
	}

	if _, err := svc.SetLinkReach(context.Background(), alice, "doc1", "everyone"); domainCode(t, err) != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR for bad reach, got %v", err)
	}
}

func TestSetLinkReachRequiresAdmin(t *testing.T) {
	fs := grantRoles(singleNode(store.Node{ID: "doc1", Path: "0I00000"}), "bob", "editor")
	svc := newTestService(fs)

	if _, err := svc.SetLinkReach(context.Background(), bob, "doc1", "public"); domainCode(t, err) != "FORBIDDEN" {
		t.Fatalf("editor must not change link reach, got %v", err)
	}
}

func TestFavoriteLifecycle(t *testing.T) {
	fs := grantRoles(singleNode(store.Node{ID: "doc1", Path: "0I00000"}), "bob", "reader")
	svc := newTestService(fs)

	changed, err := svc.SetFavorite(context.Background(), bob, "doc1", true)
	if err != nil || !changed {
		t.Fatalf("mark favorite: changed=%v err=%v", changed, err)
	}

	// Anonymous callers cannot favorite even public documents.
	fsPub := singleNode(store.Node{ID: "doc2", Path: "0R00000", LinkReach: "public"})
	svcPub := newTestService(fsPub)
	if _, err := svcPub.SetFavorite(context.Background(), anon, "doc2", true); domainCode(t, err) != "FORBIDDEN" {
		t.Fatalf("anonymous favorite must be forbidden, got %v", err)
	}
}

func TestCollabTokenCarriesEditRight(t *testing.T) {
	fs := grantRoles(singleNode(store.Node{ID: "doc1", Path: "0I00000"}), "bob", "reader")
	var tokenEdit bool
	fc := &fakeCollab{tokenFn: func(_, _ string, canEdit bool) (string, error) {
		tokenEdit = canEdit
		return "t", nil
	}}
	svc := New(fs, &fakeBlobs{}, fc, &fakeMailer{}, &fakeAI{}, &fakeLimiter{}, testLogger(), Options{})

	if _, err := svc.CollabToken(context.Background(), bob, "doc1"); err != nil {
		t.Fatalf("collab token: %v", err)
	}
	if tokenEdit {
		t.Fatal("reader token must not carry edit rights")
	}
}

func TestAITransformThrottled(t *testing.T) {
	fs := grantRoles(singleNode(store.Node{ID: "doc1", Path: "0I00000"}), "bob", "editor")
	fl := &fakeLimiter{allowFn: func(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
		return !strings.HasPrefix(key, "ai:doc:"), nil
	}}
	svc := New(fs, &fakeBlobs{}, &fakeCollab{}, &fakeMailer{}, &fakeAI{}, fl, testLogger(), Options{})

	_, err := svc.AITransform(context.Background(), bob, "doc1", "text", "summarize")
	if domainCode(t, err) != "THROTTLED" {
		t.Fatalf("expected THROTTLED, got %v", err)
	}
}

func TestAITransformRequiresEditor(t *testing.T) {
	fs := grantRoles(singleNode(store.Node{ID: "doc1", Path: "0I00000"}), "bob", "reader")
	svc := newTestService(fs)

	if _, err := svc.AITransform(context.Background(), bob, "doc1", "text", "summarize"); domainCode(t, err) != "FORBIDDEN" {
		t.Fatalf("reader must not use AI transform, got %v", err)
	}
}

func TestAuthorizeMedia(t *testing.T) {
	fs := grantRoles(singleNode(store.Node{ID: "doc1", Path: "0I00000"}), "bob", "reader")
	svc := newTestService(fs)

	auth, err := svc.AuthorizeMedia(context.Background(), bob, "doc1/attachments/img.png")
	if err != nil {
		t.Fatalf("authorize media: %v", err)
	}
	if auth.URL == "" {
		t.Fatal("expected presigned URL")
	}

	if _, err := svc.AuthorizeMedia(context.Background(), bob, "no-slash"); domainCode(t, err) != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR for malformed key, got %v", err)
	}
	if _, err := svc.AuthorizeMedia(context.Background(), bob, "ghost/attachments/img.png"); domainCode(t, err) != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND for unknown document, got %v", err)
	}
}

func TestCreateForOwnerNeedsServiceAccount(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.CreateForOwner(context.Background(), alice, "new@example.com", "en", CreateDocumentInput{Title: "welcome"})
	if domainCode(t, err) != "FORBIDDEN" {
		t.Fatalf("regular caller must not create for others, got %v", err)
	}

	robot := Identity{ServiceAccount: true}
	doc, err := svc.CreateForOwner(context.Background(), robot, "new@example.com", "en", CreateDocumentInput{Title: "welcome"})
	if err != nil {
		t.Fatalf("service account create: %v", err)
	}
	if !doc.Abilities.Delete {
		t.Fatal("beneficiary must own the created document")
	}
}
