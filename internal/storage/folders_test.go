package storage

import (
	"errors"
	"testing"
)

func TestCreateFolderRejectsDuplicateSiblings(t *testing.T) {
	store := newTestStore(t)
	user := mustCreateUser(t, store, "curator")

	parent, err := store.CreateFolder(user.ID, "Shows", nil)
	if err != nil {
		t.Fatalf("CreateFolder parent: %v", err)
	}
	if _, err := store.CreateFolder(user.ID, "Shows", nil); err == nil {
		t.Fatalf("expected duplicate root folder to be rejected")
	}

	// The same name under a different parent is fine.
	if _, err := store.CreateFolder(user.ID, "Shows", &parent.ID); err != nil {
		t.Fatalf("CreateFolder nested: %v", err)
	}
	if _, err := store.CreateFolder(user.ID, "Shows", &parent.ID); err == nil {
		t.Fatalf("expected duplicate nested folder to be rejected")
	}
}

func TestCreateFolderValidatesParentOwnership(t *testing.T) {
	store := newTestStore(t)
	user := mustCreateUser(t, store, "owner")
	other := mustCreateUser(t, store, "intruder")

	parent, err := store.CreateFolder(user.ID, "Private", nil)
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if _, err := store.CreateFolder(other.ID, "Sneaky", &parent.ID); err == nil {
		t.Fatalf("expected nesting under another user's folder to fail")
	}
}

func TestRenameFolder(t *testing.T) {
	store := newTestStore(t)
	user := mustCreateUser(t, store, "renamer")

	folder, err := store.CreateFolder(user.ID, "Old Name", nil)
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	renamed, err := store.RenameFolder(folder.ID, "  New Name  ")
	if err != nil {
		t.Fatalf("RenameFolder: %v", err)
	}
	if renamed.Name != "New Name" {
		t.Fatalf("expected trimmed name, got %q", renamed.Name)
	}
	if _, err := store.RenameFolder(folder.ID, "   "); err == nil {
		t.Fatalf("expected blank name to be rejected")
	}
	if _, err := store.RenameFolder("missing", "Anything"); err == nil {
		t.Fatalf("expected unknown folder to be rejected")
	}
}

func TestDeleteFolderRequiresEmpty(t *testing.T) {
	store := newTestStore(t)
	user := mustCreateUser(t, store, "cleaner")

	folder, err := store.CreateFolder(user.ID, "Full", nil)
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	params := uploadParams(user.ID, "occupant.mp3", 10)
	params.FolderID = &folder.ID
	item, err := store.CreateMediaItem(params)
	if err != nil {
		t.Fatalf("CreateMediaItem: %v", err)
	}

	if err := store.DeleteFolder(folder.ID); !errors.Is(err, ErrFolderNotEmpty) {
		t.Fatalf("expected ErrFolderNotEmpty for folder with media, got %v", err)
	}

	if _, err := store.DeleteMediaItem(item.ID); err != nil {
		t.Fatalf("DeleteMediaItem: %v", err)
	}
	child, err := store.CreateFolder(user.ID, "Child", &folder.ID)
	if err != nil {
		t.Fatalf("CreateFolder child: %v", err)
	}
	if err := store.DeleteFolder(folder.ID); !errors.Is(err, ErrFolderNotEmpty) {
		t.Fatalf("expected ErrFolderNotEmpty for folder with children, got %v", err)
	}

	if err := store.DeleteFolder(child.ID); err != nil {
		t.Fatalf("DeleteFolder child: %v", err)
	}
	if err := store.DeleteFolder(folder.ID); err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}
	if err := store.DeleteFolder(folder.ID); err == nil {
		t.Fatalf("expected second delete to fail")
	}
}

func TestListFoldersSortedByName(t *testing.T) {
	store := newTestStore(t)
	user := mustCreateUser(t, store, "sorter")

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := store.CreateFolder(user.ID, name, nil); err != nil {
			t.Fatalf("CreateFolder %s: %v", name, err)
		}
	}
	folders := store.ListFolders(user.ID)
	if len(folders) != 3 {
		t.Fatalf("expected 3 folders, got %d", len(folders))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if folders[i].Name != want {
			t.Fatalf("expected folder %d to be %s, got %s", i, want, folders[i].Name)
		}
	}
}
