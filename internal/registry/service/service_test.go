package service_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wxpass/internal/ledger"
	"wxpass/internal/registry/models"
	"wxpass/internal/registry/service"
	"wxpass/internal/registry/store/memory"
	"wxpass/pkg/domain"
	dErrors "wxpass/pkg/domain-errors"
)

const (
	testPrice    = uint64(10_000_000)
	adminAddr    = domain.Address("ADMIN7XQVN2LKJHGFDSAPOIUYTREWQMNBVCXZ234567ABCDEFGHIJK234")
	holdingAddr  = domain.Address("HOLD26XQVN2LKJHGFDSAPOIUYTREWQMNBVCXZ234567ABCDEFGHIJK234")
	buyerAddr    = domain.Address("BUYER6XQVN2LKJHGFDSAPOIUYTREWQMNBVCXZ234567ABCDEFGHIJK234")
	strangerAddr = domain.Address("OTHER6XQVN2LKJHGFDSAPOIUYTREWQMNBVCXZ234567ABCDEFGHIJK234")
)

// fakeLedger serves canned transaction lookups.
type fakeLedger struct {
	mu  sync.Mutex
	txs map[domain.TxID]ledger.TxResult
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{txs: make(map[domain.TxID]ledger.TxResult)}
}

func (f *fakeLedger) confirm(sender, receiver domain.Address, amount uint64) domain.TxID {
	f.mu.Lock()
	defer f.mu.Unlock()
	txID := domain.NewTxID()
	f.txs[txID] = ledger.TxResult{
		Payment: ledger.Payment{TxID: txID, Sender: sender, Receiver: receiver, Amount: amount},
		Status:  ledger.StatusConfirmed,
	}
	return txID
}

func (f *fakeLedger) put(res ledger.TxResult) domain.TxID {
	f.mu.Lock()
	defer f.mu.Unlock()
	txID := domain.NewTxID()
	res.Payment.TxID = txID
	f.txs[txID] = res
	return txID
}

func (f *fakeLedger) Transaction(_ context.Context, txID domain.TxID) (ledger.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.txs[txID]
	if !ok {
		return ledger.TxResult{}, dErrors.New(dErrors.CodeNotFound, "transaction not found")
	}
	return res, nil
}

func newService(t *testing.T) (*service.Service, *memory.Store, *fakeLedger) {
	t.Helper()
	store := memory.New()
	node := newFakeLedger()
	svc := service.New(store, node, service.Config{
		Price:          testPrice,
		Validity:       time.Hour,
		HoldingAddress: holdingAddr,
		AdminAddress:   adminAddr,
	}, nil, nil, slog.Default())
	return svc, store, node
}

func mint(t *testing.T, svc *service.Service, quantity int) []domain.CredentialID {
	t.Helper()
	ids, err := svc.Mint(context.Background(), adminAddr, models.MintRequest{
		Quantity:        quantity,
		Price:           testPrice,
		ValiditySeconds: 3600,
	})
	require.NoError(t, err)
	require.Len(t, ids, quantity)
	return ids
}

func TestMintRequiresAdmin(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.Mint(context.Background(), buyerAddr, models.MintRequest{
		Quantity: 1, Price: testPrice, ValiditySeconds: 3600,
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestMintValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  models.MintRequest
	}{
		{"zero quantity", models.MintRequest{Quantity: 0, Price: testPrice, ValiditySeconds: 3600}},
		{"negative validity", models.MintRequest{Quantity: 1, Price: testPrice, ValiditySeconds: -1}},
		{"usage limited without uses", models.MintRequest{Quantity: 1, Price: testPrice, ValiditySeconds: 3600, UsageLimited: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Mint(ctx, adminAddr, tc.req)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestMintDefaultsToConfiguredTerms(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	ids, err := svc.Mint(ctx, adminAddr, models.MintRequest{Quantity: 1})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	listed, err := svc.ListAvailable(ctx, 10, models.SortByCreated)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, uint64(testPrice), listed[0].Price)
}

func TestPurchaseHappyPath(t *testing.T) {
	svc, _, node := newService(t)
	ctx := context.Background()
	mint(t, svc, 3)

	proof := node.confirm(buyerAddr, holdingAddr, 2*testPrice)
	ids, err := svc.Purchase(ctx, models.PurchaseOrder{
		Buyer:       buyerAddr,
		PaymentTxID: proof,
		Quantity:    2,
	})
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	owned, err := svc.Query(ctx, buyerAddr)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	for _, c := range owned {
		assert.Equal(t, models.StatusValid, c.Status(time.Now()))
	}

	n, err := svc.Available(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPurchaseInsufficientPaymentLeavesStockUnchanged(t *testing.T) {
	svc, _, node := newService(t)
	ctx := context.Background()
	mint(t, svc, 2)

	proof := node.confirm(buyerAddr, holdingAddr, testPrice-1)
	_, err := svc.Purchase(ctx, models.PurchaseOrder{
		Buyer:       buyerAddr,
		PaymentTxID: proof,
		Quantity:    1,
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientPayment))

	n, err := svc.Available(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	owned, err := svc.Query(ctx, buyerAddr)
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestPurchaseRejectsWrongPaymentShape(t *testing.T) {
	svc, _, node := newService(t)
	ctx := context.Background()
	mint(t, svc, 2)

	t.Run("wrong receiver", func(t *testing.T) {
		proof := node.confirm(buyerAddr, strangerAddr, testPrice)
		_, err := svc.Purchase(ctx, models.PurchaseOrder{Buyer: buyerAddr, PaymentTxID: proof, Quantity: 1})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientPayment))
	})

	t.Run("wrong sender", func(t *testing.T) {
		proof := node.confirm(strangerAddr, holdingAddr, testPrice)
		_, err := svc.Purchase(ctx, models.PurchaseOrder{Buyer: buyerAddr, PaymentTxID: proof, Quantity: 1})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientPayment))
	})

	t.Run("overpayment is not honored", func(t *testing.T) {
		proof := node.confirm(buyerAddr, holdingAddr, 3*testPrice)
		_, err := svc.Purchase(ctx, models.PurchaseOrder{Buyer: buyerAddr, PaymentTxID: proof, Quantity: 1})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientPayment))
	})
}

func TestPurchasePendingPaymentIsUnconfirmed(t *testing.T) {
	svc, _, node := newService(t)
	ctx := context.Background()
	mint(t, svc, 1)

	proof := node.put(ledger.TxResult{
		Payment: ledger.Payment{Sender: buyerAddr, Receiver: holdingAddr, Amount: testPrice},
		Status:  ledger.StatusPending,
	})
	_, err := svc.Purchase(ctx, models.PurchaseOrder{Buyer: buyerAddr, PaymentTxID: proof, Quantity: 1})
	assert.True(t, dErrors.HasCode(err, dErrors.CodePaymentUnconfirmed))
}

func TestPurchaseUnknownPaymentIsUnconfirmed(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	mint(t, svc, 1)

	_, err := svc.Purchase(ctx, models.PurchaseOrder{Buyer: buyerAddr, PaymentTxID: domain.NewTxID(), Quantity: 1})
	assert.True(t, dErrors.HasCode(err, dErrors.CodePaymentUnconfirmed))
}

func TestPurchaseFailedPaymentIsInsufficient(t *testing.T) {
	svc, _, node := newService(t)
	ctx := context.Background()
	mint(t, svc, 1)

	proof := node.put(ledger.TxResult{
		Payment: ledger.Payment{Sender: buyerAddr, Receiver: holdingAddr, Amount: testPrice},
		Status:  ledger.StatusFailed,
		Reason:  "insufficient balance",
	})
	_, err := svc.Purchase(ctx, models.PurchaseOrder{Buyer: buyerAddr, PaymentTxID: proof, Quantity: 1})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientPayment))
}

func TestPurchaseProofSettlesAtMostOnce(t *testing.T) {
	svc, _, node := newService(t)
	ctx := context.Background()
	mint(t, svc, 3)

	proof := node.confirm(buyerAddr, holdingAddr, testPrice)
	order := models.PurchaseOrder{Buyer: buyerAddr, PaymentTxID: proof, Quantity: 1}

	_, err := svc.Purchase(ctx, order)
	require.NoError(t, err)

	_, err = svc.Purchase(ctx, order)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	n, err := svc.Available(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "replay must not move additional stock")
}

func TestConcurrentPurchasesOfLastCredential(t *testing.T) {
	svc, _, node := newService(t)
	ctx := context.Background()
	mint(t, svc, 1)

	proofA := node.confirm(buyerAddr, holdingAddr, testPrice)
	proofB := node.confirm(strangerAddr, holdingAddr, testPrice)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	orders := []models.PurchaseOrder{
		{Buyer: buyerAddr, PaymentTxID: proofA, Quantity: 1},
		{Buyer: strangerAddr, PaymentTxID: proofB, Quantity: 1},
	}
	for i := range orders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Purchase(ctx, orders[i])
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.True(t, dErrors.HasCode(err, dErrors.CodeSoldOut))
		}
	}
	assert.Equal(t, 1, winners, "exactly one buyer wins the last credential")
}

func TestListAvailable(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	mint(t, svc, 5)

	summaries, err := svc.ListAvailable(ctx, 3, models.SortByPrice)
	require.NoError(t, err)
	assert.Len(t, summaries, 3)
	for _, s := range summaries {
		assert.Equal(t, testPrice, s.Price)
		assert.Equal(t, int64(3600), s.ValiditySeconds)
	}

	_, err = svc.ListAvailable(ctx, 10, models.SortKey("owner"))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestConsumeUse(t *testing.T) {
	svc, store, node := newService(t)
	ctx := context.Background()

	ids, err := svc.Mint(ctx, adminAddr, models.MintRequest{
		Quantity:        1,
		Price:           testPrice,
		ValiditySeconds: 3600,
		UsageLimited:    true,
		Uses:            2,
	})
	require.NoError(t, err)

	proof := node.confirm(buyerAddr, holdingAddr, testPrice)
	_, err = svc.Purchase(ctx, models.PurchaseOrder{Buyer: buyerAddr, PaymentTxID: proof, Quantity: 1})
	require.NoError(t, err)

	cred, err := svc.ConsumeUse(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 1, cred.UsesRemaining)

	cred, err = svc.ConsumeUse(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 0, cred.UsesRemaining)
	assert.Equal(t, models.StatusExhausted, cred.Status(time.Now()))

	_, err = store.Get(ctx, ids[0])
	require.NoError(t, err)
}

func TestConsumeUseIgnoresTimeLimited(t *testing.T) {
	svc, _, node := newService(t)
	ctx := context.Background()
	ids := mint(t, svc, 1)

	proof := node.confirm(buyerAddr, holdingAddr, testPrice)
	_, err := svc.Purchase(ctx, models.PurchaseOrder{Buyer: buyerAddr, PaymentTxID: proof, Quantity: 1})
	require.NoError(t, err)

	cred, err := svc.ConsumeUse(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, cred.UsageLimited)
	assert.Equal(t, models.StatusValid, cred.Status(time.Now()))
}
