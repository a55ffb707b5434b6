package operation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cypherpepe/prism/pkg/keys"
)

func mustSign(t *testing.T, sk keys.SigningKey, op Operation) Operation {
	t.Helper()
	payload, err := op.signingPayload()
	require.NoError(t, err)
	sig, err := sk.Sign(payload)
	require.NoError(t, err)
	op.Signature = &sig
	return op
}

func TestHashchainCreateThenAddKey(t *testing.T) {
	sk1, err := keys.GenerateEd25519()
	require.NoError(t, err)
	vk1 := sk1.VerifyingKey()

	hc := New("alice")
	require.NoError(t, hc.PerformOperation(Operation{Kind: KindCreateAccount, ID: "alice", InitialKey: &vk1}))

	sk2, err := keys.GenerateSecp256k1()
	require.NoError(t, err)
	vk2 := sk2.VerifyingKey()

	addKey := Operation{Kind: KindAddKey, ID: "alice", NewKey: &vk2, SignedBy: &vk1}
	addKey = mustSign(t, sk1, addKey)
	require.NoError(t, hc.PerformOperation(addKey))

	require.Len(t, hc.Entries, 2)
	require.True(t, hc.active[vk2.Encode()])
}

func TestHashchainRejectsUnauthorizedSigner(t *testing.T) {
	sk1, err := keys.GenerateEd25519()
	require.NoError(t, err)
	vk1 := sk1.VerifyingKey()

	hc := New("alice")
	require.NoError(t, hc.PerformOperation(Operation{Kind: KindCreateAccount, ID: "alice", InitialKey: &vk1}))

	outsider, err := keys.GenerateEd25519()
	require.NoError(t, err)
	outsiderVK := outsider.VerifyingKey()

	addKey := Operation{Kind: KindAddKey, ID: "alice", NewKey: &outsiderVK, SignedBy: &outsiderVK}
	addKey = mustSign(t, outsider, addKey)

	err = hc.PerformOperation(addKey)
	require.ErrorIs(t, err, ErrUnauthorizedKey)
	require.Len(t, hc.Entries, 1)
}

func TestHashchainRevokeThenRejectFurtherUse(t *testing.T) {
	sk1, err := keys.GenerateEd25519()
	require.NoError(t, err)
	vk1 := sk1.VerifyingKey()

	hc := New("alice")
	require.NoError(t, hc.PerformOperation(Operation{Kind: KindCreateAccount, ID: "alice", InitialKey: &vk1}))

	revoke := Operation{Kind: KindRevokeKey, ID: "alice", RevokedKey: &vk1, SignedBy: &vk1}
	revoke = mustSign(t, sk1, revoke)
	require.NoError(t, hc.PerformOperation(revoke))
	require.False(t, hc.active[vk1.Encode()])

	addData := Operation{Kind: KindAddData, ID: "alice", Payload: []byte("x"), SignedBy: &vk1}
	addData = mustSign(t, sk1, addData)
	require.ErrorIs(t, hc.PerformOperation(addData), ErrUnauthorizedKey)
}

func TestCloneIsIndependent(t *testing.T) {
	sk1, err := keys.GenerateEd25519()
	require.NoError(t, err)
	vk1 := sk1.VerifyingKey()

	hc := New("alice")
	require.NoError(t, hc.PerformOperation(Operation{Kind: KindCreateAccount, ID: "alice", InitialKey: &vk1}))

	clone := hc.Clone()

	sk2, err := keys.GenerateEd25519()
	require.NoError(t, err)
	vk2 := sk2.VerifyingKey()
	addKey := Operation{Kind: KindAddKey, ID: "alice", NewKey: &vk2, SignedBy: &vk1}
	addKey = mustSign(t, sk1, addKey)
	require.NoError(t, clone.PerformOperation(addKey))

	require.Len(t, clone.Entries, 2)
	require.Len(t, hc.Entries, 1)
}
