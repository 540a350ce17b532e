package goemitter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/apistarter/internal/scaffold"
)

func TestCheckGroups_AcrossGroups(t *testing.T) {
	t.Parallel()
	e, _ := New(Options{})
	groups := []*scaffold.Group{
		{Handler: "userController", Operations: []scaffold.Operation{{OperationID: "get-users", Method: "GET", Path: "/users"}}},
		{Handler: "adminController", Operations: []scaffold.Operation{{OperationID: "getUsers", Method: "GET", Path: "/admin/users"}}},
	}
	err := e.CheckGroups(groups)
	if !errors.Is(err, ErrFuncCollision) || !strings.Contains(err.Error(), "GetUsers") {
		t.Fatalf("expected cross-group collision on GetUsers, got %v", err)
	}

	groups[1].Operations[0].OperationID = "getAdmins"
	if err := e.CheckGroups(groups); err != nil {
		t.Fatalf("distinct names rejected: %v", err)
	}
}

func TestGenerate_HandlersSharingAFile(t *testing.T) {
	t.Parallel()
	doc := `openapi: 3.0.0
info: {title: t, version: '1'}
paths:
  /users:
    get:
      x-eov-operation-id: getUsers
      x-eov-operation-handler: userController
  /admins:
    get:
      x-eov-operation-id: getAdmins
      x-eov-operation-handler: user_controller
`
	groups, err := scaffold.ReadGroups([]byte(doc))
	if err != nil {
		t.Fatalf("read groups: %v", err)
	}
	e, _ := New(Options{})
	dir := t.TempDir()
	_, err = scaffold.Generate(context.Background(), groups, scaffold.Options{OutDir: dir, Renderer: e})
	if !errors.Is(err, scaffold.ErrPathCollision) || !strings.Contains(err.Error(), "user_controller.go") {
		t.Fatalf("expected collision on user_controller.go, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "user_controller.go")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("no file should be written, stat: %v", err)
	}
}
