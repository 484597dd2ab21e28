package store

import (
	"testing"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/registry"
)

// Interface compliance (compile-time assertion)
var _ Store = (*MemoryStore)(nil)

func TestMemoryStore_AppendAndMessages(t *testing.T) {
	s := NewMemoryStore()

	if err := s.EnsureSession("sess-1"); err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}

	msgs := []core.Message{
		core.NewSystemMessage("You are a weather bot."),
		core.NewUserMessage("Forecast for Berlin?"),
		core.NewAssistantMessage("Sunny, 22C.", nil),
	}
	if err := s.AppendMessages("sess-1", msgs); err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	got, err := s.Messages("sess-1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(messages) = %d, want 3", len(got))
	}
	if got[1].Role != core.RoleUser || got[1].Content != "Forecast for Berlin?" {
		t.Errorf("unexpected second message: %+v", got[1])
	}

	// Mutating the returned slice must not leak into the store.
	got[0].Content = "overwritten"
	again, _ := s.Messages("sess-1")
	if again[0].Content != "You are a weather bot." {
		t.Error("stored history was mutated through a returned copy")
	}
}

func TestMemoryStore_AppendCreatesSession(t *testing.T) {
	s := NewMemoryStore()

	if err := s.AppendMessages("fresh", []core.Message{core.NewUserMessage("hi")}); err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	infos, err := s.Sessions()
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(infos) != 1 || infos[0].ID != "fresh" || infos[0].MessageCount != 1 {
		t.Fatalf("unexpected sessions: %+v", infos)
	}
	if infos[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}
}

func TestMemoryStore_MessagesUnknownSession(t *testing.T) {
	s := NewMemoryStore()

	got, err := s.Messages("nope")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(got))
	}
}

func TestMemoryStore_SessionsMostRecentFirst(t *testing.T) {
	s := NewMemoryStore()

	_ = s.EnsureSession("older")
	_ = s.EnsureSession("newer")
	_ = s.AppendMessages("older", []core.Message{core.NewUserMessage("a"), core.NewUserMessage("b")})

	infos, err := s.Sessions()
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(infos))
	}
	if infos[0].ID != "newer" {
		t.Errorf("first session = %q, want %q", infos[0].ID, "newer")
	}
	if infos[1].MessageCount != 2 {
		t.Errorf("older MessageCount = %d, want 2", infos[1].MessageCount)
	}
}

func TestMemoryStore_DeleteSession(t *testing.T) {
	s := NewMemoryStore()

	_ = s.AppendMessages("sess-1", []core.Message{core.NewUserMessage("hi")})
	if err := s.DeleteSession("sess-1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}

	got, _ := s.Messages("sess-1")
	if len(got) != 0 {
		t.Error("messages survived session deletion")
	}

	if err := s.DeleteSession("sess-1"); err != nil {
		t.Errorf("second DeleteSession() error = %v", err)
	}
}

func TestMemoryStore_ServerConfigs(t *testing.T) {
	s := NewMemoryStore()

	_ = s.SaveServer(registry.ServerConfig{Name: "weather", Transport: registry.TransportStdio, Command: "weather-mcp"})
	_ = s.SaveServer(registry.ServerConfig{Name: "docs", Transport: registry.TransportSSE, URL: "http://localhost:8080/sse"})

	// Upsert replaces by name.
	_ = s.SaveServer(registry.ServerConfig{Name: "docs", Transport: registry.TransportStreamableHTTP, URL: "http://localhost:9090/mcp"})

	cfgs, err := s.Servers()
	if err != nil {
		t.Fatalf("Servers() error = %v", err)
	}
	if len(cfgs) != 2 {
		t.Fatalf("len(servers) = %d, want 2", len(cfgs))
	}
	if cfgs[0].Name != "docs" || cfgs[1].Name != "weather" {
		t.Errorf("servers not sorted by name: %q, %q", cfgs[0].Name, cfgs[1].Name)
	}
	if cfgs[0].Transport != registry.TransportStreamableHTTP || cfgs[0].URL != "http://localhost:9090/mcp" {
		t.Errorf("upsert did not replace config: %+v", cfgs[0])
	}

	if err := s.DeleteServer("docs"); err != nil {
		t.Fatalf("DeleteServer() error = %v", err)
	}
	cfgs, _ = s.Servers()
	if len(cfgs) != 1 || cfgs[0].Name != "weather" {
		t.Errorf("unexpected servers after delete: %+v", cfgs)
	}
}
