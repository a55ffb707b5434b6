package tree

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cypherpepe/prism/pkg/keys"
	"github.com/cypherpepe/prism/pkg/operation"
	"github.com/cypherpepe/prism/pkg/storage/kvdb"
)

func newMemTree(t *testing.T) *Tree {
	t.Helper()
	db, err := kvdb.Open("test", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	tr, err := NewTree(db)
	require.NoError(t, err)
	return tr
}

func TestTwoEmptyTreesAgree(t *testing.T) {
	a := newMemTree(t)
	b := newMemTree(t)
	require.Equal(t, a.Commitment(), b.Commitment())
	require.Equal(t, a.EmptyRoot(), a.Commitment())
}

func TestInsertThenMembershipProof(t *testing.T) {
	tr := newMemTree(t)

	sk, err := keys.GenerateEd25519()
	require.NoError(t, err)
	vk := sk.VerifyingKey()

	op := operation.Operation{Kind: operation.KindCreateAccount, ID: "alice", InitialKey: &vk}
	proof, err := tr.ProcessOperation(op)
	require.NoError(t, err)
	require.Equal(t, KindInsert, proof.Kind)
	require.True(t, proof.OldValue.IsZero())
	require.False(t, proof.NewValue.IsZero())
	require.True(t, proof.Verify(tr.defaults))

	found, hc, memProof, err := tr.Get("alice")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "alice", hc.ID)
	require.Equal(t, KindMembership, memProof.Kind)
	require.True(t, memProof.Verify(tr.defaults))
	require.Equal(t, tr.Commitment(), memProof.NewRoot)
}

func TestNonMembershipProofForAbsentKey(t *testing.T) {
	tr := newMemTree(t)

	sk, err := keys.GenerateEd25519()
	require.NoError(t, err)
	vk := sk.VerifyingKey()
	_, err = tr.ProcessOperation(operation.Operation{Kind: operation.KindCreateAccount, ID: "alice", InitialKey: &vk})
	require.NoError(t, err)

	found, hc, proof, err := tr.Get("bob")
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, hc)
	require.Equal(t, KindNonMembership, proof.Kind)
	require.True(t, proof.Verify(tr.defaults))
}

func TestUpdateProofChainsRoots(t *testing.T) {
	tr := newMemTree(t)

	sk1, err := keys.GenerateEd25519()
	require.NoError(t, err)
	vk1 := sk1.VerifyingKey()
	insertProof, err := tr.ProcessOperation(operation.Operation{Kind: operation.KindCreateAccount, ID: "alice", InitialKey: &vk1})
	require.NoError(t, err)

	sk2, err := keys.GenerateSecp256k1()
	require.NoError(t, err)
	vk2 := sk2.VerifyingKey()
	addKey := operation.Operation{Kind: operation.KindAddKey, ID: "alice", NewKey: &vk2, SignedBy: &vk1}
	payload, err := addKeySigningPayload(addKey)
	require.NoError(t, err)
	sig, err := sk1.Sign(payload)
	require.NoError(t, err)
	addKey.Signature = &sig

	updateProof, err := tr.ProcessOperation(addKey)
	require.NoError(t, err)
	require.Equal(t, KindUpdate, updateProof.Kind)
	require.Equal(t, insertProof.NewRoot, updateProof.PrevRoot)
	require.NotEqual(t, updateProof.PrevRoot, updateProof.NewRoot)
	require.True(t, updateProof.Verify(tr.defaults))
	require.Equal(t, tr.Commitment(), updateProof.NewRoot)
}

// addKeySigningPayload mirrors operation.Operation.signingPayload (which is
// unexported) so this test can produce a validly signed AddKey without
// reaching into the operation package's internals.
func addKeySigningPayload(op operation.Operation) ([]byte, error) {
	op.Signature = nil
	return json.Marshal(op)
}
