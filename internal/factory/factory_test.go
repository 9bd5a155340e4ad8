package factory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/adapters/cache"
	"github.com/mikey/mail-classifier/internal/config"
	"github.com/mikey/mail-classifier/internal/utils"
)

func testConfig(t *testing.T, overrides map[string]any) *config.Config {
	t.Helper()
	cfg := config.NewFromViper(config.NewEmptyViper())
	for k, v := range overrides {
		cfg.Set(k, v)
	}
	return cfg
}

func TestCreateCacheRepository(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t, map[string]any{"cache.type": "memory", "cache.capacity": 2})
	c, err := NewCacheFactory(cfg, zap.NewNop()).CreateCacheRepository(ctx)
	if err != nil {
		t.Fatalf("memory cache: %v", err)
	}
	defer c.Stop()
	if _, ok := c.(*cache.MemoryCache); !ok {
		t.Errorf("cache = %T, want *cache.MemoryCache", c)
	}

	cfg = testConfig(t, map[string]any{
		"cache.type":        "sqlite",
		"cache.sqlite_path": filepath.Join(t.TempDir(), "nested", "cache.db"),
	})
	sc, err := NewCacheFactory(cfg, zap.NewNop()).CreateCacheRepository(ctx)
	if err != nil {
		t.Fatalf("sqlite cache: %v", err)
	}
	sc.Stop()

	cfg = testConfig(t, map[string]any{"cache.type": "memcached"})
	if _, err := NewCacheFactory(cfg, zap.NewNop()).CreateCacheRepository(ctx); err == nil {
		t.Error("expected an error for an unsupported cache type")
	}
}

func TestCreateLLMClient(t *testing.T) {
	tp := utils.NewTextProcessor(nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		overrides map[string]any
		wantNil   bool
		wantErr   bool
	}{
		{name: "disabled", overrides: map[string]any{"llm.enabled": false}, wantNil: true},
		{name: "openai without key", overrides: map[string]any{"llm.enabled": true, "llm.provider": "openai"}, wantErr: true},
		{name: "openai compatible endpoint", overrides: map[string]any{
			"llm.enabled": true, "llm.provider": "openai", "openai.base_url": "http://127.0.0.1:11434/v1",
		}},
		{name: "gemini without key", overrides: map[string]any{"llm.enabled": true, "llm.provider": "gemini"}, wantErr: true},
		{name: "unknown provider", overrides: map[string]any{"llm.enabled": true, "llm.provider": "palm"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewLLMFactory(testConfig(t, tt.overrides), zap.NewNop(), tp)
			client, closer, err := f.CreateLLMClient(ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (client == nil) != tt.wantNil {
				t.Errorf("client = %v, wantNil %v", client, tt.wantNil)
			}
			if closer != nil {
				_ = closer.Close()
			}
		})
	}
}

func TestCreateStoreAndFeedbackQueue(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "data", "store.db")
	f := NewStoreFactory(testConfig(t, map[string]any{"store.dsn": dsn}), zap.NewNop())

	st, err := f.CreateStore(context.Background())
	if err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	defer st.Close()

	queue, closer, err := f.CreateFeedbackQueue(st)
	if err != nil || closer != nil {
		t.Fatalf("CreateFeedbackQueue = %v, %v, %v", queue, closer, err)
	}
	if _, _, err := f.CreateFeedbackQueue(nil); err == nil {
		t.Error("expected an error for the store sink without a store")
	}

	bad := NewStoreFactory(testConfig(t, map[string]any{"feedback.sink": "kafka"}), zap.NewNop())
	if _, _, err := bad.CreateFeedbackQueue(st); err == nil {
		t.Error("expected an error for an unsupported sink")
	}
}

func TestCreateStatisticalClassifierWithoutModel(t *testing.T) {
	cfg := testConfig(t, map[string]any{"statistical.model_path": filepath.Join(t.TempDir(), "absent.msgpack")})
	f := NewClassifierFactory(cfg, zap.NewNop())

	holder, err := f.CreatePatternHolder()
	if err != nil {
		t.Fatalf("CreatePatternHolder: %v", err)
	}
	if holder.Current() == nil {
		t.Fatal("no pattern library loaded")
	}

	classifier, err := f.CreateStatisticalClassifier(nil)
	if err != nil {
		t.Fatalf("CreateStatisticalClassifier: %v", err)
	}
	if classifier.Current() != nil {
		t.Error("a model was loaded from a missing file")
	}
}

func TestCreatePostfixFilterRejectsBadTimeout(t *testing.T) {
	cfg := testConfig(t, map[string]any{"server.classify_timeout": "forever"})
	if _, err := NewFilterFactory(cfg, zap.NewNop()).CreatePostfixFilter(nil); err == nil {
		t.Error("expected an error for a malformed timeout")
	}

	cfg = testConfig(t, map[string]any{"server.classify_timeout": (2 * time.Second).String()})
	if _, err := NewFilterFactory(cfg, zap.NewNop()).CreatePostfixFilter(nil); err != nil {
		t.Errorf("CreatePostfixFilter: %v", err)
	}
}
