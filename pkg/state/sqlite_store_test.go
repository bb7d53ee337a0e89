package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a file-backed store in a temp directory. A file
// (rather than :memory:) exercises the same path the application uses and
// lets tests reopen the database to simulate a process restart.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(context.Background(), Config{
		Path: filepath.Join(t.TempDir(), "state.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestLoadEmpty(t *testing.T) {
	store := setupTestStore(t)

	rec, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if rec.Status != StatusNotDeployed {
		t.Errorf("expected status %q, got %q", StatusNotDeployed, rec.Status)
	}
	if !rec.Empty() {
		t.Errorf("expected empty record, got %+v", rec)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := setupTestStore(t)

	deployed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	destroy := deployed.Add(4 * time.Hour)
	rec := &Record{
		Status:            StatusDeployed,
		Provider:          ProviderAWS,
		Region:            "us-east-1",
		VPCID:             "vpc-0abc",
		SubnetID:          "subnet-0abc",
		InternetGatewayID: "igw-0abc",
		RouteTableID:      "rtb-0abc",
		SecurityGroupID:   "sg-0abc",
		KeyPairName:       "wgforge-key-1a2b3c4d",
		InstanceID:        "i-0abc",
		AllocationID:      "eipalloc-0abc",
		AssociationID:     "eipassoc-0abc",
		PublicIP:          "203.0.113.10",
		SSHUser:           "ubuntu",
		ServerPublicKey:   "spub",
		ClientPrivateKey:  "cpriv",
		ClientPublicKey:   "cpub",
		ClientConfig:      "[Interface]\n",
		DeployedAt:        &deployed,
		AutoDestroyAt:     &destroy,
	}

	if err := store.Save(rec); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Status != rec.Status || got.Provider != rec.Provider || got.Region != rec.Region {
		t.Errorf("record metadata mismatch: got %+v", got)
	}
	if got.VPCID != rec.VPCID || got.InstanceID != rec.InstanceID || got.AssociationID != rec.AssociationID {
		t.Errorf("resource handles mismatch: got %+v", got)
	}
	if got.ClientConfig != rec.ClientConfig || got.ClientPrivateKey != rec.ClientPrivateKey {
		t.Errorf("key material mismatch: got %+v", got)
	}
	if got.DeployedAt == nil || !got.DeployedAt.Equal(deployed) {
		t.Errorf("deployed_at mismatch: got %v", got.DeployedAt)
	}
	if got.AutoDestroyAt == nil || !got.AutoDestroyAt.Equal(destroy) {
		t.Errorf("auto_destroy_at mismatch: got %v", got.AutoDestroyAt)
	}
}

func TestSaveOverwrites(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Save(&Record{Status: StatusDeploying, Provider: ProviderAWS, VPCID: "vpc-1"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Save(&Record{Status: StatusDeploying, Provider: ProviderAWS, VPCID: "vpc-1", SubnetID: "subnet-1"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.VPCID != "vpc-1" || got.SubnetID != "subnet-1" {
		t.Errorf("expected merged save to win, got %+v", got)
	}
}

func TestClaim(t *testing.T) {
	store := setupTestStore(t)

	// Claiming the empty store treats the missing row as not_deployed.
	if err := store.Claim(&Record{Status: StatusDeploying, Provider: ProviderAWS}, StatusNotDeployed); err != nil {
		t.Fatalf("claim from empty store failed: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Status != StatusDeploying {
		t.Errorf("status = %q, want %q", got.Status, StatusDeploying)
	}

	// A second claimant that still believes the store is not_deployed
	// loses the race.
	err = store.Claim(&Record{Status: StatusDeploying, Provider: ProviderAWS}, StatusNotDeployed)
	if !errors.Is(err, ErrClaimConflict) {
		t.Fatalf("stale claim error = %v, want ErrClaimConflict", err)
	}

	got, err = store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Status != StatusDeploying {
		t.Errorf("rejected claim changed the record: %+v", got)
	}
}

func TestClaimFromMatchingStatus(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Save(&Record{Status: StatusFailed, Provider: ProviderAWS, VPCID: "vpc-1"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Claim(&Record{Status: StatusDeploying, Provider: ProviderAWS, VPCID: "vpc-1"}, StatusFailed); err != nil {
		t.Fatalf("claim from failed status failed: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Status != StatusDeploying || got.VPCID != "vpc-1" {
		t.Errorf("claimed record mismatch: %+v", got)
	}
}

func TestReset(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Save(&Record{Status: StatusFailed, Provider: ProviderBYO, ErrorMessage: "boom"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !got.Empty() {
		t.Errorf("expected empty record after reset, got %+v", got)
	}
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Save(&Record{Status: StatusDeploying, Provider: ProviderDigitalOcean, DropletID: 42}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := NewSQLiteStore(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Load()
	if err != nil {
		t.Fatalf("load after reopen failed: %v", err)
	}
	if got.Status != StatusDeploying || got.DropletID != 42 {
		t.Errorf("record did not survive reopen: %+v", got)
	}
}

func TestCorruptRecordDegrades(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Save(&Record{Status: StatusDeployed, Provider: ProviderAWS}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := store.db.Exec(`UPDATE deployment SET record = 'not json' WHERE id = 1`); err != nil {
		t.Fatalf("failed to corrupt record: %v", err)
	}

	rec, err := store.Load()
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if rec == nil || rec.Status != StatusNotDeployed {
		t.Errorf("expected degraded not_deployed record, got %+v", rec)
	}
}

func TestRecover(t *testing.T) {
	tests := []struct {
		name       string
		in         *Record
		wantStatus Status
		wantChange bool
	}{
		{
			name:       "stuck deploying becomes failed",
			in:         &Record{Status: StatusDeploying, Provider: ProviderAWS, VPCID: "vpc-1"},
			wantStatus: StatusFailed,
			wantChange: true,
		},
		{
			name:       "stuck destroying rolls back to deployed",
			in:         &Record{Status: StatusDestroying, Provider: ProviderAWS, InstanceID: "i-1"},
			wantStatus: StatusDeployed,
			wantChange: true,
		},
		{
			name:       "deployed untouched",
			in:         &Record{Status: StatusDeployed, Provider: ProviderBYO},
			wantStatus: StatusDeployed,
			wantChange: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestStore(t)
			if err := store.Save(tt.in); err != nil {
				t.Fatalf("save failed: %v", err)
			}

			res, err := Recover(store)
			if err != nil {
				t.Fatalf("recover failed: %v", err)
			}
			if res.Changed != tt.wantChange {
				t.Errorf("changed = %v, want %v", res.Changed, tt.wantChange)
			}

			got, err := store.Load()
			if err != nil {
				t.Fatalf("load failed: %v", err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", got.Status, tt.wantStatus)
			}
			if tt.in.Status == StatusDestroying && got.AutoDestroyAt != nil {
				t.Errorf("auto_destroy_at should be cleared on destroy rollback")
			}
		})
	}
}

func TestRecoverCorruptResets(t *testing.T) {
	store := setupTestStore(t)
	if err := store.Save(&Record{Status: StatusDeployed}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := store.db.Exec(`UPDATE deployment SET record = '{' WHERE id = 1`); err != nil {
		t.Fatalf("failed to corrupt record: %v", err)
	}

	res, err := Recover(store)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if !res.Changed {
		t.Error("expected recovery to report a change")
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load after recovery failed: %v", err)
	}
	if !got.Empty() {
		t.Errorf("expected clean record after corrupt recovery, got %+v", got)
	}
}
