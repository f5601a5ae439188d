package storage_test

import (
	"testing"

	"github.com/olakai/olakai-go/storage"
)

// fakeEnv drives the selector without faking global runtime state.
type fakeEnv struct {
	browser, container, serverless, readOnly bool
}

func (f fakeEnv) IsBrowserLike() bool   { return f.browser }
func (f fakeEnv) IsContainerized() bool { return f.container }
func (f fakeEnv) IsServerless() bool    { return f.serverless }
func (f fakeEnv) IsReadOnlyFS() bool    { return f.readOnly }

func TestDetectOptimalType(t *testing.T) {
	cases := []struct {
		name string
		env  fakeEnv
		want storage.Type
	}{
		{"plain server gets file", fakeEnv{}, storage.TypeFile},
		{"wasm runtime gets memory", fakeEnv{browser: true}, storage.TypeMemory},
		{"container gets memory", fakeEnv{container: true}, storage.TypeMemory},
		{"serverless gets memory", fakeEnv{serverless: true}, storage.TypeMemory},
		{"read-only filesystem gets memory", fakeEnv{readOnly: true}, storage.TypeMemory},
		{"container wins over writable disk", fakeEnv{container: true, readOnly: false}, storage.TypeMemory},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := storage.DetectOptimalType(tc.env); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestTypeIsValid(t *testing.T) {
	for _, typ := range []storage.Type{
		storage.TypeMemory, storage.TypeFile, storage.TypeLocalStore,
		storage.TypePostgres, storage.TypeAuto, storage.TypeDisabled,
	} {
		if !typ.IsValid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	if storage.Type("redis").IsValid() {
		t.Error("unknown type should be invalid")
	}
}
