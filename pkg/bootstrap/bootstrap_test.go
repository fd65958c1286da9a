package bootstrap

import (
    "strings"
    "testing"
)

func TestConfig_Listeners(t *testing.T) {
    ls, err := Config{Addr: "127.0.0.1:7000"}.Listeners()
    if err != nil { t.Fatalf("single: %v", err) }
    if len(ls) != 1 || ls[0].Name() != "msg" || ls[0].Addr() != "127.0.0.1:7000" { t.Fatalf("single listeners: %v", ls) }

    ls, err = Config{Mode: ModeDual, Addr: "127.0.0.1:7000"}.Listeners()
    if err != nil { t.Fatalf("dual: %v", err) }
    if len(ls) != 2 || ls[1].Name() != "file" || ls[1].Addr() != DefaultFileAddr { t.Fatalf("dual listeners: %v", ls) }

    if _, err := (Config{Mode: ModeDual, Addr: ":1", FileAddr: ":1"}).Listeners(); err == nil { t.Fatalf("expected error for shared dual address") }
    if _, err := (Config{Mode: "triple"}).Listeners(); err == nil || !strings.Contains(err.Error(), "unknown mode") { t.Fatalf("err=%v", err) }
}

func TestBuild_RejectsUnknownMgmtProto(t *testing.T) {
    if _, err := Build(Config{MgmtAddr: "127.0.0.1:0", MgmtProto: "smtp"}); err == nil { t.Fatalf("expected error") }
    r, err := Build(Config{Dir: t.TempDir(), MgmtAddr: "127.0.0.1:0", MgmtProto: "grpc"})
    if err != nil || r == nil { t.Fatalf("build grpc: %v", err) }
}
