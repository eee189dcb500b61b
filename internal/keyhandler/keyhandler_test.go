package keyhandler

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"

	cardanocrypto "github.com/echovl/cardano-go/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keybox/internal/derivation"
	"keybox/internal/keybox"
	"keybox/internal/mnemonic"
	"keybox/internal/passphrase"
	"keybox/internal/seal"
	"keybox/internal/txid"
)

// Known-answer inputs: 256-bit entropy and the extended public key of its
// m/1852'/1815'/0' account node, cross-checked against cardano-address.
const (
	testEntropyHex = "387183ffe785d467ab662c01acbcf79400e2430dde6c9aee74cf0602de0d82e8"
	testAccountHex = "1b39889a420374e41917cf420d88a84d9b40d7eeef533ac37f323076c5f7106a" +
		"15ef170481a5c4333be2b4cf498525512ac4a3427e1a0e9c9f42cfcb42ba6deb"
)

// countingSource hands out copies of a fixed passphrase and records how
// often it was consulted.
type countingSource struct {
	pass  []byte
	calls int
}

func (c *countingSource) source() passphrase.Source {
	return func(ctx context.Context) ([]byte, error) {
		c.calls++
		out := make([]byte, len(c.pass))
		copy(out, c.pass)
		return out, nil
	}
}

func testEntropy(t *testing.T) []byte {
	t.Helper()
	entropy, err := hex.DecodeString(testEntropyHex)
	require.NoError(t, err)
	return entropy
}

func testAccount(t *testing.T, index uint32) derivation.Account {
	t.Helper()
	account, err := derivation.CIP1852Account(index)
	require.NoError(t, err)
	return account
}

func newHDHandler(t *testing.T) (*HD, *countingSource) {
	t.Helper()
	src := &countingSource{pass: []byte("password")}
	h, err := NewHD(testEntropy(t), []byte("password"), src.source())
	require.NoError(t, err)
	return h, src
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func TestHDAccountPublicKeyVector(t *testing.T) {
	h, _ := newHDHandler(t)

	xpub, err := h.AccountPublicKey(context.Background(), testAccount(t, 0))
	require.NoError(t, err)
	require.Len(t, xpub, 64)
	assert.Equal(t, testAccountHex, hex.EncodeToString(xpub))
}

func TestNewHDFromMnemonicMatchesEntropy(t *testing.T) {
	phrase, err := mnemonic.FromEntropy(testEntropy(t))
	require.NoError(t, err)

	src := &countingSource{pass: []byte("password")}
	h, err := NewHDFromMnemonic(phrase, []byte("password"), src.source())
	require.NoError(t, err)

	xpub, err := h.AccountPublicKey(context.Background(), testAccount(t, 0))
	require.NoError(t, err)
	assert.Equal(t, testAccountHex, hex.EncodeToString(xpub))
}

func TestNewHDFromMnemonicRejectsBadPhrase(t *testing.T) {
	pass := []byte("password")
	src := &countingSource{pass: []byte("password")}

	_, err := NewHDFromMnemonic("not a valid phrase", pass, src.source())
	assert.ErrorIs(t, err, mnemonic.ErrInvalidMnemonic)
	assert.True(t, allZero(pass), "passphrase not wiped on failure")
}

func TestNewHDWipesInputs(t *testing.T) {
	entropy := testEntropy(t)
	pass := []byte("password")
	src := &countingSource{pass: []byte("password")}

	_, err := NewHD(entropy, pass, src.source())
	require.NoError(t, err)
	assert.True(t, allZero(entropy), "entropy not wiped")
	assert.True(t, allZero(pass), "passphrase not wiped")
}

func TestHDSignTransactionWitnesses(t *testing.T) {
	h, _ := newHDHandler(t)
	account := testAccount(t, 0)
	payment := derivation.Path{Account: account, Role: derivation.External, Index: 0}
	stake := derivation.Path{Account: account, Role: derivation.Staking, Index: 0}

	tx := []byte("transaction body bytes")
	id := txid.Hash(tx)

	witnesses, err := h.SignTransaction(context.Background(), tx, payment, stake)
	require.NoError(t, err)
	require.Len(t, witnesses, 2)

	for i, w := range witnesses {
		assert.Len(t, w.VerificationKey, ed25519.PublicKeySize, "witness %d key size", i)
		assert.Len(t, w.Signature, ed25519.SignatureSize, "witness %d signature size", i)
		assert.True(t, w.Verify(id.Bytes()), "witness %d does not verify over the tx id", i)
		assert.False(t, w.Verify(tx), "witness %d signed raw bytes instead of the id", i)
	}
	assert.NotEqual(t, witnesses[0].VerificationKey, witnesses[1].VerificationKey,
		"distinct roles produced the same child key")
}

func TestHDSigningIsDeterministic(t *testing.T) {
	h, _ := newHDHandler(t)
	path := derivation.Path{Account: testAccount(t, 0), Role: derivation.External, Index: 3}
	tx := []byte("same body")

	first, err := h.SignTransaction(context.Background(), tx, path)
	require.NoError(t, err)
	second, err := h.SignTransaction(context.Background(), tx, path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestHDWitnessOrderFollowsInput(t *testing.T) {
	h, _ := newHDHandler(t)
	account := testAccount(t, 0)
	p1 := derivation.Path{Account: account, Role: derivation.External, Index: 0}
	p2 := derivation.Path{Account: account, Role: derivation.Staking, Index: 0}
	tx := []byte("ordering")

	forward, err := h.SignTransaction(context.Background(), tx, p1, p2)
	require.NoError(t, err)
	reverse, err := h.SignTransaction(context.Background(), tx, p2, p1)
	require.NoError(t, err)

	assert.Equal(t, forward[0], reverse[1])
	assert.Equal(t, forward[1], reverse[0])
}

func TestHDDuplicatePathsYieldDuplicateWitnesses(t *testing.T) {
	h, _ := newHDHandler(t)
	path := derivation.Path{Account: testAccount(t, 0), Role: derivation.External, Index: 0}

	witnesses, err := h.SignTransaction(context.Background(), []byte("tx"), path, path)
	require.NoError(t, err)
	require.Len(t, witnesses, 2)
	assert.Equal(t, witnesses[0], witnesses[1])
}

func TestHDEmptyDerivationSet(t *testing.T) {
	h, src := newHDHandler(t)

	witnesses, err := h.SignTransaction(context.Background(), []byte("tx"))
	assert.ErrorIs(t, err, ErrEmptyDerivationSet)
	assert.Nil(t, witnesses)
	assert.Zero(t, src.calls, "passphrase source consulted for an empty batch")
}

func TestHDInvalidPathRejectedBeforeUnseal(t *testing.T) {
	h, src := newHDHandler(t)
	account := testAccount(t, 0)

	bad := derivation.Path{Account: account, Role: derivation.Role(9), Index: 0}
	_, err := h.SignTransaction(context.Background(), []byte("tx"), bad)
	assert.ErrorIs(t, err, derivation.ErrInvalidRole)

	raw := derivation.Path{
		Account: derivation.Account{Purpose: 1852, CoinType: 1815, Index: 0},
		Role:    derivation.External,
	}
	_, err = h.SignTransaction(context.Background(), []byte("tx"), raw)
	assert.ErrorIs(t, err, derivation.ErrNotHardened)

	assert.Zero(t, src.calls, "passphrase source consulted despite invalid paths")
}

func TestHDSingleUnsealPerBatch(t *testing.T) {
	h, src := newHDHandler(t)
	account := testAccount(t, 0)
	paths := []derivation.Path{
		{Account: account, Role: derivation.External, Index: 0},
		{Account: account, Role: derivation.Internal, Index: 1},
		{Account: account, Role: derivation.Staking, Index: 0},
	}

	_, err := h.SignTransaction(context.Background(), []byte("tx"), paths...)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "batch should decrypt exactly once")

	_, err = h.AccountPublicKey(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls, "each operation decrypts exactly once")
}

func TestHDWrongPassphrase(t *testing.T) {
	h, _ := newHDHandler(t)
	data := h.Serialize()

	wrong := &countingSource{pass: []byte("not the passphrase")}
	restored, err := DeserializeHD(data, wrong.source())
	require.NoError(t, err, "authentication is deferred to first use")

	_, err = restored.AccountPublicKey(context.Background(), testAccount(t, 0))
	assert.ErrorIs(t, err, seal.ErrAuthenticationFailed)
}

func TestHDRoundTrip(t *testing.T) {
	h, _ := newHDHandler(t)
	data := h.Serialize()

	src := &countingSource{pass: []byte("password")}
	restored, err := DeserializeHD(data, src.source())
	require.NoError(t, err)
	assert.Equal(t, keybox.KeyTypeHD, restored.KeyType())
	assert.Equal(t, h.Fingerprint(), restored.Fingerprint())

	xpub, err := restored.AccountPublicKey(context.Background(), testAccount(t, 0))
	require.NoError(t, err)
	assert.Equal(t, testAccountHex, hex.EncodeToString(xpub))
}

func TestDeserializeDispatch(t *testing.T) {
	h, _ := newHDHandler(t)

	src := &countingSource{pass: []byte("password")}
	generic, err := Deserialize(h.Serialize(), src.source())
	require.NoError(t, err)
	require.IsType(t, &HD{}, generic)
	assert.Equal(t, keybox.KeyTypeHD, generic.KeyType())

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	skSrc := &countingSource{pass: []byte("password")}
	sk, err := NewSingleKey(append([]byte(nil), priv...), []byte("password"), skSrc.source())
	require.NoError(t, err)

	generic, err = Deserialize(sk.Serialize(), skSrc.source())
	require.NoError(t, err)
	require.IsType(t, &SingleKey{}, generic)
	assert.Equal(t, keybox.KeyTypeEd25519, generic.KeyType())
}

func TestVariantMismatch(t *testing.T) {
	h, _ := newHDHandler(t)
	hdData := h.Serialize()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	src := &countingSource{pass: []byte("password")}
	sk, err := NewSingleKey(append([]byte(nil), priv...), []byte("password"), src.source())
	require.NoError(t, err)
	skData := sk.Serialize()

	other := &countingSource{pass: []byte("password")}
	_, err = DeserializeSingleKey(hdData, other.source())
	assert.ErrorIs(t, err, keybox.ErrUnsupportedKeyType)

	_, err = DeserializeHD(skData, other.source())
	assert.ErrorIs(t, err, keybox.ErrUnsupportedKeyType)
}

func TestHDPrivateKey(t *testing.T) {
	h, _ := newHDHandler(t)
	path := derivation.Path{Account: testAccount(t, 0), Role: derivation.External, Index: 0}

	child, err := h.PrivateKey(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, child, 96)
	assert.False(t, allZero(child), "returned key must survive internal wiping")

	// The released child must be the same key the handler signs with.
	witnesses, err := h.SignTransaction(context.Background(), []byte("tx"), path)
	require.NoError(t, err)
	xpub := cardanocrypto.XPrvKey(child).XPubKey()
	assert.Equal(t, witnesses[0].VerificationKey, []byte(xpub[:32]))

	sibling := derivation.Path{Account: testAccount(t, 0), Role: derivation.External, Index: 1}
	other, err := h.PrivateKey(context.Background(), sibling)
	require.NoError(t, err)
	assert.NotEqual(t, child, other)
}

func TestHDSignData(t *testing.T) {
	h, _ := newHDHandler(t)
	path := derivation.Path{Account: testAccount(t, 0), Role: derivation.DRep, Index: 0}
	payload := []byte("governance metadata anchor")

	ds, err := h.SignData(context.Background(), payload, path)
	require.NoError(t, err)
	require.Len(t, ds.Key, ed25519.PublicKeySize)
	assert.True(t, ed25519.Verify(ed25519.PublicKey(ds.Key), payload, ds.Signature),
		"data signature does not verify")

	witnesses, err := h.SignTransaction(context.Background(), payload, path)
	require.NoError(t, err)
	assert.Equal(t, witnesses[0].VerificationKey, ds.Key, "same path must use the same child")
	assert.NotEqual(t, witnesses[0].Signature, ds.Signature,
		"transaction signing must commit to the id, not the raw bytes")
}

func TestSingleKeyLifecycle(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	src := &countingSource{pass: []byte("password")}
	sk, err := NewSingleKey(append([]byte(nil), priv...), []byte("password"), src.source())
	require.NoError(t, err)

	got, err := sk.PublicKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte(pub), got)

	tx := []byte("transaction body bytes")
	id := txid.Hash(tx)
	witnesses, err := sk.SignTransaction(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, witnesses, 1)
	assert.Equal(t, []byte(pub), witnesses[0].VerificationKey)
	assert.True(t, ed25519.Verify(pub, id.Bytes(), witnesses[0].Signature))
}

func TestSingleKeySeedAndExpandedFormsAgree(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	seed := append([]byte(nil), priv.Seed()...)

	srcA := &countingSource{pass: []byte("password")}
	fromExpanded, err := NewSingleKey(append([]byte(nil), priv...), []byte("password"), srcA.source())
	require.NoError(t, err)

	srcB := &countingSource{pass: []byte("password")}
	fromSeed, err := NewSingleKey(seed, []byte("password"), srcB.source())
	require.NoError(t, err)

	pubA, err := fromExpanded.PublicKey(context.Background())
	require.NoError(t, err)
	pubB, err := fromSeed.PublicKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pubA, pubB)
	assert.Equal(t, []byte(pub), pubA)
}

func TestSingleKeyRejectsPaths(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	src := &countingSource{pass: []byte("password")}
	sk, err := NewSingleKey(append([]byte(nil), priv...), []byte("password"), src.source())
	require.NoError(t, err)

	path := derivation.Path{Account: testAccount(t, 0), Role: derivation.External, Index: 0}
	witnesses, err := sk.SignTransaction(context.Background(), []byte("tx"), path)
	assert.ErrorIs(t, err, ErrUnexpectedPath)
	assert.Nil(t, witnesses)
	assert.Zero(t, src.calls, "passphrase source consulted despite the path error")
}

func TestNewSingleKeyBadSize(t *testing.T) {
	priv := []byte("sixteen byte key")
	pass := []byte("password")
	src := &countingSource{pass: []byte("password")}

	_, err := NewSingleKey(priv, pass, src.source())
	assert.ErrorIs(t, err, ErrBadPrivateKeySize)
	assert.True(t, allZero(priv), "private key not wiped on failure")
	assert.True(t, allZero(pass), "passphrase not wiped on failure")
}

func TestSingleKeySignData(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	src := &countingSource{pass: []byte("password")}
	sk, err := NewSingleKey(append([]byte(nil), priv...), []byte("password"), src.source())
	require.NoError(t, err)

	payload := []byte("cip-8 style payload")
	ds, err := sk.SignData(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, []byte(pub), ds.Key)
	assert.True(t, ed25519.Verify(pub, payload, ds.Signature))
}

func TestWitnessVerifyRejectsDamage(t *testing.T) {
	h, _ := newHDHandler(t)
	path := derivation.Path{Account: testAccount(t, 0), Role: derivation.External, Index: 0}
	tx := []byte("tx")
	id := txid.Hash(tx)

	witnesses, err := h.SignTransaction(context.Background(), tx, path)
	require.NoError(t, err)
	w := witnesses[0]

	tampered := w
	tampered.Signature = append([]byte(nil), w.Signature...)
	tampered.Signature[0] ^= 0x01
	assert.False(t, tampered.Verify(id.Bytes()))

	short := w
	short.VerificationKey = w.VerificationKey[:16]
	assert.False(t, short.Verify(id.Bytes()))
}
