package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/dkeye/RemoteDesk/internal/testutil/testlog"
)

func TestAuthorityPushesBeforeReturn(t *testing.T) {
	testlog.Start(t)
	a := NewAuthority(Set{})
	var pushed []Set
	detach := a.Attach("c1", func(s Set) error {
		pushed = append(pushed, s)
		return nil
	})
	var changed Set
	a.OnChange(func(s Set) { changed = s })

	got, err := a.Update(Patch{Clipboard: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(pushed) != 1 || pushed[0] != got || !a.Check(Clipboard) || changed != got {
		t.Fatalf("pushed=%v got=%+v changed=%+v", pushed, got, changed)
	}

	detach()
	_, _ = a.Update(Patch{Mouse: true})
	if len(pushed) != 1 {
		t.Fatalf("detached peer still pushed: %d", len(pushed))
	}
}

func TestAuthorityPushFailureKeepsCommit(t *testing.T) {
	testlog.Start(t)
	a := NewAuthority(Set{})
	boom := errors.New("boom")
	a.Attach("c1", func(Set) error { return boom })
	if _, err := a.Update(Patch{Keyboard: true}); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if !a.Check(Keyboard) {
		t.Fatalf("update not committed")
	}
	if _, err := a.Update(Patch{"nope": true}); err == nil || !a.Check(Keyboard) {
		t.Fatalf("bad patch err=%v", err)
	}
}

func TestCacheReset(t *testing.T) {
	testlog.Start(t)
	c := NewCache()
	c.Replace(AllGranted())
	if !c.Has(Whiteboard) || !c.Received() {
		t.Fatalf("cache not replaced")
	}
	c.Reset()
	if c.Has(Whiteboard) || c.Received() {
		t.Fatalf("cache not reset")
	}
}

func TestCatalog(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	cat := NewCatalog(nil)
	p, err := cat.Create(ctx, "support", ProfileFullAccess)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := cat.Get(ctx, p.ID)
	if err != nil || got.Permissions != p.Permissions {
		t.Fatalf("get=%+v err=%v", got, err)
	}
	list, _ := cat.List(ctx)
	if len(list) != 4 {
		t.Fatalf("list=%d", len(list))
	}
	if _, err := cat.Get(ctx, "missing"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("err=%v", err)
	}
	if _, err := cat.Create(ctx, "x", "missing"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("err=%v", err)
	}
	builtin, _ := BuiltInProfile(ProfileDefault)
	if err := cat.Save(ctx, builtin); !errors.Is(err, ErrImmutableProfile) {
		t.Fatalf("err=%v", err)
	}
}
