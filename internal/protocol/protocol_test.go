package protocol_test

import (
	"context"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	"github.com/escrow-network/escrow-daemon/internal/protocol"
	"github.com/escrow-network/escrow-daemon/pkg/txbuilder"
)

var testParams = &chaincfg.RegressionNetParams

type fakeWallet struct {
	mtx    sync.Mutex
	keys   map[string]*btcec.PrivateKey
	inputs []ports.TxInput
	change int64

	committed []*wire.MsgTx
	broadcast []*wire.MsgTx
	released  int
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{keys: make(map[string]*btcec.PrivateKey)}
}

func (w *fakeWallet) MultiSigKey(_ context.Context, tradeId string) (*btcec.PrivateKey, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if key, ok := w.keys[tradeId]; ok {
		return key, nil
	}
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	w.keys[tradeId] = key
	return key, nil
}

func (w *fakeWallet) GetOrCreateAddress(_ context.Context, _, _ string) (string, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return "", err
	}
	hash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, testParams)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

func (w *fakeWallet) CommitTransaction(_ context.Context, tx *wire.MsgTx) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	w.committed = append(w.committed, tx)
	return nil
}

func (w *fakeWallet) Broadcast(_ context.Context, tx *wire.MsgTx) (string, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	w.broadcast = append(w.broadcast, tx)
	return tx.TxHash().String(), nil
}

func (w *fakeWallet) Reserve(_ context.Context, _, _ string) (ports.Reservation, error) {
	return &fakeReservation{wallet: w}, nil
}

func (w *fakeWallet) SelectInputs(_ context.Context, _ string, _ int64) ([]ports.TxInput, int64, error) {
	return w.inputs, w.change, nil
}

type fakeReservation struct {
	wallet *fakeWallet
	once   sync.Once
}

func (r *fakeReservation) Release() {
	r.once.Do(func() {
		r.wallet.mtx.Lock()
		defer r.wallet.mtx.Unlock()
		r.wallet.released++
	})
}

type fakeMessenger struct {
	mtx     sync.Mutex
	sent    []ports.TradeMessage
	outcome ports.SendOutcome
	acks    map[string]chan struct{}
	removed []string
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{acks: make(map[string]chan struct{})}
}

func (m *fakeMessenger) SendEncrypted(
	_ context.Context, _ string, _ []byte, msg ports.TradeMessage,
) (ports.SendOutcome, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.sent = append(m.sent, msg)
	return m.outcome, nil
}

func (m *fakeMessenger) SubscribeAck(uid string) (<-chan struct{}, func()) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	ch, ok := m.acks[uid]
	if !ok {
		ch = make(chan struct{}, 1)
		m.acks[uid] = ch
	}
	return ch, func() {}
}

func (m *fakeMessenger) RemoveMailboxEntry(_ context.Context, uid string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.removed = append(m.removed, uid)
	return nil
}

func (m *fakeMessenger) sentMessages() []ports.TradeMessage {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	out := make([]ports.TradeMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *fakeMessenger) ack(uid string) {
	m.mtx.Lock()
	ch, ok := m.acks[uid]
	m.mtx.Unlock()
	if ok {
		ch <- struct{}{}
	}
}

type fakeOracle struct {
	height uint32
}

func (o *fakeOracle) BestChainHeight(_ context.Context) (uint32, error) {
	return o.height, nil
}

func (o *fakeOracle) GetTransactionStatus(_ context.Context, _ string) (ports.TxStatus, error) {
	return ports.TxStatus{}, nil
}

func (o *fakeOracle) GetTransactionsForAddress(_ context.Context, _ string) ([]ports.AddressTx, error) {
	return nil, nil
}

func testOffer() domain.Offer {
	return domain.Offer{
		Id:                    "offer-1",
		Price:                 "25000",
		PriceTolerancePercent: 1,
		MinAmount:             100_000,
		MaxAmount:             200_000_000,
		BuyerSecurityDeposit:  1_000_000,
		SellerSecurityDeposit: 1_000_000,
		PaymentMethod:         domain.PaymentMethod{Id: "SEPA"},
		AcceptedArbitrators:   []string{"arb-1.onion", "arb-2.onion", "arb-3.onion"},
		AcceptedMediators:     []string{"med-1.onion", "med-2.onion"},
		MakerFeeTxId:          "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	}
}

func newTestProcessModel(wallet *fakeWallet, messenger *fakeMessenger, oracle *fakeOracle) *protocol.ProcessModel {
	return &protocol.ProcessModel{
		Wallet:                  wallet,
		Messenger:               messenger,
		Oracle:                  oracle,
		Params:                  testParams,
		DonationAddress:         "",
		PriceTolerance:          1,
		LockTimeDelayBlockchain: 1440,
		LockTimeDelayFiat:       2880,
		MyNodeAddress:           "maker.onion",
	}
}

func TestMakerDepositRequestPipeline(t *testing.T) {
	wallet := newFakeWallet()
	wallet.inputs = []ports.TxInput{{
		TxId:  "aa1111111111111111111111111111111111111111111111111111111111aaaa",
		VOut:  0,
		Value: 102_000_000,
	}}
	messenger := newFakeMessenger()
	oracle := &fakeOracle{height: 100_000}

	offer := testOffer()
	trade := domain.NewTrade(offer, domain.RoleMakerSeller, 0, offer.Price, 0)

	pm := newTestProcessModel(wallet, messenger, oracle)
	donationAddr := newTestAddress(t)
	pm.DonationAddress = donationAddr
	pm.DonationAllowList = []string{donationAddr}
	p := protocol.New(pm, trade)

	takerKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	arbitrator, err := domain.SelectArbitrator(offer.AcceptedArbitrators, offer)
	require.NoError(t, err)
	mediator, err := domain.SelectMediator(offer.AcceptedMediators, offer)
	require.NoError(t, err)

	msg := &protocol.DepositInputsRequest{
		Envelope:            protocol.Envelope{TradeId: offer.Id, Uid: "uid-1"},
		TradeAmount:         100_000_000,
		TradePrice:          offer.Price,
		TakerMultiSigPubKey: takerKey.PubKey().SerializeCompressed(),
		TakerPayoutAddress:  newTestAddress(t),
		TakerInputs: []txbuilder.RawInput{{
			TxId:  "bb2222222222222222222222222222222222222222222222222222222222bbbb",
			VOut:  1,
			Value: 1_000_000,
		}},
		TakerNodeAddress:         "taker.onion",
		TakerAcceptedArbitrators: offer.AcceptedArbitrators,
		TakerAcceptedMediators:   offer.AcceptedMediators,
		SelectedArbitrator:       arbitrator,
		SelectedMediator:         mediator,
	}

	require.NoError(t, p.OnMessage(context.Background(), msg))

	require.Equal(t, uint32(102_880), trade.LockTime)
	require.Equal(t, arbitrator, trade.ArbitratorAddress)
	require.Equal(t, mediator, trade.MediatorAddress)
	require.NotEmpty(t, trade.ContractJson)
	require.NotEmpty(t, trade.ContractHash)
	require.NotEmpty(t, trade.MakerContractSig)

	// the maker-seller sends the response and immediately opens the delayed
	// payout round
	sent := messenger.sentMessages()
	require.Len(t, sent, 2)
	resp, ok := sent[0].(*protocol.DepositInputsResponse)
	require.True(t, ok)
	dpReq, ok := sent[1].(*protocol.DelayedPayoutSignatureRequest)
	require.True(t, ok)
	require.NotEmpty(t, dpReq.DelayedPayoutTx)
	require.NotEmpty(t, dpReq.SellerSignature)
	require.Equal(t, offer.Id, resp.TradeId)
	require.NotEmpty(t, resp.PreparedDepositTx)
	require.NotEmpty(t, resp.MakerBindingSig)
	require.Equal(t, uint32(102_880), resp.LockTime)

	// binding signature must check out against the maker's multisig key
	require.NoError(t, txbuilder.VerifyTxBytesSig(
		resp.PreparedDepositTx, resp.MakerBindingSig, resp.MakerMultiSigPubKey,
	))

	require.Equal(t,
		domain.StateMakerSawArrivedDepositInputsResponse, trade.State)
}

func TestMakerDepositRequestPipeline_WrongOfferId(t *testing.T) {
	wallet := newFakeWallet()
	messenger := newFakeMessenger()
	oracle := &fakeOracle{height: 100_000}

	offer := testOffer()
	trade := domain.NewTrade(offer, domain.RoleMakerSeller, 0, offer.Price, 0)
	p := protocol.New(newTestProcessModel(wallet, messenger, oracle), trade)

	msg := &protocol.DepositInputsRequest{
		Envelope: protocol.Envelope{TradeId: "other-offer", Uid: "uid-1"},
	}
	err := p.OnMessage(context.Background(), msg)
	require.ErrorIs(t, err, domain.ErrOfferIdMismatch)
	require.Empty(t, messenger.sentMessages())
	require.Equal(t, domain.StatePreparation, trade.State)
}

func TestMakerDepositRequestPipeline_PriceOutOfTolerance(t *testing.T) {
	wallet := newFakeWallet()
	wallet.inputs = []ports.TxInput{{
		TxId:  "aa1111111111111111111111111111111111111111111111111111111111aaaa",
		Value: 102_000_000,
	}}
	messenger := newFakeMessenger()
	oracle := &fakeOracle{height: 100_000}

	offer := testOffer()
	trade := domain.NewTrade(offer, domain.RoleMakerSeller, 0, offer.Price, 0)
	p := protocol.New(newTestProcessModel(wallet, messenger, oracle), trade)

	takerKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	arbitrator, _ := domain.SelectArbitrator(offer.AcceptedArbitrators, offer)
	mediator, _ := domain.SelectMediator(offer.AcceptedMediators, offer)

	msg := &protocol.DepositInputsRequest{
		Envelope:            protocol.Envelope{TradeId: offer.Id, Uid: "uid-1"},
		TradeAmount:         100_000_000,
		TradePrice:          "26000", // 4% off a 1% tolerance offer
		TakerMultiSigPubKey: takerKey.PubKey().SerializeCompressed(),
		TakerPayoutAddress:  newTestAddress(t),
		TakerInputs: []txbuilder.RawInput{{
			TxId:  "bb2222222222222222222222222222222222222222222222222222222222bbbb",
			Value: 1_000_000,
		}},
		TakerNodeAddress:         "taker.onion",
		TakerAcceptedArbitrators: offer.AcceptedArbitrators,
		TakerAcceptedMediators:   offer.AcceptedMediators,
		SelectedArbitrator:       arbitrator,
		SelectedMediator:         mediator,
	}

	err = p.OnMessage(context.Background(), msg)
	require.ErrorIs(t, err, domain.ErrPriceOutOfTolerance)
	require.Empty(t, messenger.sentMessages())
}

func TestMakerDepositRequestPipeline_SelectionMismatch(t *testing.T) {
	wallet := newFakeWallet()
	messenger := newFakeMessenger()
	oracle := &fakeOracle{height: 100_000}

	offer := testOffer()
	trade := domain.NewTrade(offer, domain.RoleMakerSeller, 0, offer.Price, 0)
	p := protocol.New(newTestProcessModel(wallet, messenger, oracle), trade)

	takerKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	msg := &protocol.DepositInputsRequest{
		Envelope:            protocol.Envelope{TradeId: offer.Id, Uid: "uid-1"},
		TradeAmount:         100_000_000,
		TradePrice:          offer.Price,
		TakerMultiSigPubKey: takerKey.PubKey().SerializeCompressed(),
		TakerPayoutAddress:  newTestAddress(t),
		TakerInputs: []txbuilder.RawInput{{
			TxId:  "bb2222222222222222222222222222222222222222222222222222222222bbbb",
			Value: 1_000_000,
		}},
		TakerNodeAddress:         "taker.onion",
		TakerAcceptedArbitrators: offer.AcceptedArbitrators,
		TakerAcceptedMediators:   offer.AcceptedMediators,
		SelectedArbitrator:       "arb-not-selected.onion",
		SelectedMediator:         "med-1.onion",
	}

	err = p.OnMessage(context.Background(), msg)
	require.Error(t, err)
	require.Empty(t, messenger.sentMessages())
}

func TestSetLockTimeRegtestDelay(t *testing.T) {
	wallet := newFakeWallet()
	messenger := newFakeMessenger()
	oracle := &fakeOracle{height: 500}

	offer := testOffer()
	trade := domain.NewTrade(offer, domain.RoleMakerSeller, 0, offer.Price, 0)

	pm := newTestProcessModel(wallet, messenger, oracle)
	pm.LockTimeDelayBlockchain = 5
	pm.LockTimeDelayFiat = 5

	task := &protocol.SetLockTime{}
	require.NoError(t, task.Run(context.Background(), pm, trade))
	require.Equal(t, uint32(505), trade.LockTime)

	// already set, must not move
	oracle.height = 600
	require.NoError(t, task.Run(context.Background(), pm, trade))
	require.Equal(t, uint32(505), trade.LockTime)
}

func TestFiatPaymentEventsRespectRoles(t *testing.T) {
	wallet := newFakeWallet()
	messenger := newFakeMessenger()
	oracle := &fakeOracle{height: 100}

	offer := testOffer()
	sellerTrade := domain.NewTrade(offer, domain.RoleMakerSeller, 1, offer.Price, 0)
	seller := protocol.New(newTestProcessModel(wallet, messenger, oracle), sellerTrade)

	require.Error(t, seller.OnFiatPaymentInitiated(context.Background(), ""))

	buyerTrade := domain.NewTrade(offer, domain.RoleTakerBuyer, 1, offer.Price, 0)
	buyer := protocol.New(newTestProcessModel(wallet, messenger, oracle), buyerTrade)

	require.Error(t, buyer.OnFiatPaymentReceived(context.Background()))
}

func newTestAddress(t *testing.T) string {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	hash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, testParams)
	require.NoError(t, err)
	return addr.EncodeAddress()
}
