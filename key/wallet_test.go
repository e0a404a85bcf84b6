package key

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/podgraph/pod"
)

const testWalletKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestWalletAdd(t *testing.T) {
	cases := []struct {
		name    string
		key     string
		wantErr error
	}{
		{name: "plain", key: testWalletKey},
		{name: "prefixed", key: "0x" + testWalletKey},
		{name: "upper_prefix", key: "0X" + strings.ToUpper(testWalletKey)},
		{name: "short", key: testWalletKey[:62], wantErr: pod.ErrValidation},
		{name: "long", key: testWalletKey + "00", wantErr: pod.ErrValidation},
		{name: "not_hex", key: strings.Repeat("zz", 32), wantErr: pod.ErrValidation},
		{name: "zero", key: strings.Repeat("00", 32), wantErr: pod.ErrValidation},
		{name: "order", key: "fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", wantErr: pod.ErrValidation},
		{name: "", key: testWalletKey, wantErr: pod.ErrValidation},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var w Wallets
			err := w.Add(c.name, c.key)
			if c.wantErr != nil {
				if !errors.Is(err, c.wantErr) {
					t.Errorf("got error %v, want %s", err, c.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			got, err := w.Get(c.name)
			if err != nil {
				t.Fatal(err)
			}
			if got != testWalletKey {
				t.Errorf("got %s, want %s", got, testWalletKey)
			}
		})
	}
}

func TestWalletActive(t *testing.T) {
	var w Wallets
	if err := w.Add("a", testWalletKey); err != nil {
		t.Fatal(err)
	}
	if err := w.Add("b", "0x01"+testWalletKey[2:]); err != nil {
		t.Fatal(err)
	}
	if err := w.SetActive("c"); !errors.Is(err, pod.ErrNotFound) {
		t.Errorf("got error %v activating unknown wallet, want %s", err, pod.ErrNotFound)
	}
	if err := w.SetActive("b"); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, w.Names()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	if err := w.Remove("b"); err != nil {
		t.Fatal(err)
	}
	if w.Active != "" {
		t.Errorf("removed wallet %q still active", w.Active)
	}
	if err := w.Remove("b"); !errors.Is(err, pod.ErrNotFound) {
		t.Errorf("got error %v removing twice, want %s", err, pod.ErrNotFound)
	}
	if _, err := w.Get("b"); !errors.Is(err, pod.ErrNotFound) {
		t.Errorf("got error %v for removed wallet, want %s", err, pod.ErrNotFound)
	}
}

func TestWalletsFile(t *testing.T) {
	dir, err := os.MkdirTemp("", "wallets")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "wallets")

	w, err := LoadWalletsFile(path, []byte("pw"))
	if err != nil {
		t.Fatal(err)
	}
	if len(w.Names()) != 0 {
		t.Errorf("got wallets %v from missing file, want none", w.Names())
	}

	if err = w.Add("main", testWalletKey); err != nil {
		t.Fatal(err)
	}
	if err = w.SetActive("main"); err != nil {
		t.Fatal(err)
	}
	if err = SaveWalletsFile(path, w, []byte("pw")); err != nil {
		t.Fatal(err)
	}

	got, err := LoadWalletsFile(path, []byte("pw"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(w, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	if _, err = LoadWalletsFile(path, []byte("wrong")); !errors.Is(err, pod.ErrAuth) {
		t.Errorf("got error %v for wrong password, want %s", err, pod.ErrAuth)
	}

	// A keystore does not open as a wallet file, nor the reverse.
	sealed, err := Seal(testSecret(t), []byte("pw"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err = OpenWallets(sealed, []byte("pw")); !errors.Is(err, pod.ErrCorrupt) {
		t.Errorf("got error %v opening a keystore as wallets, want %s", err, pod.ErrCorrupt)
	}
	walletBytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = Open(walletBytes, []byte("pw")); !errors.Is(err, pod.ErrCorrupt) {
		t.Errorf("got error %v opening wallets as a keystore, want %s", err, pod.ErrCorrupt)
	}
}
