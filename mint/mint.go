// Package mint implements the ledger engine: keyset derivation, quote
// lifecycles, swap/melt/mint settlement, spending-condition verification,
// and the event emissions the HTTP layer fans out to subscribers.
package mint

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	decodepay "github.com/nbd-wtf/ln-decodepay"

	"github.com/oceanslim/nutmint/cashu"
	"github.com/oceanslim/nutmint/cashu/nuts/nut04"
	"github.com/oceanslim/nutmint/cashu/nuts/nut05"
	"github.com/oceanslim/nutmint/cashu/nuts/nut06"
	"github.com/oceanslim/nutmint/cashu/nuts/nut07"
	"github.com/oceanslim/nutmint/cashu/nuts/nut10"
	"github.com/oceanslim/nutmint/cashu/nuts/nut11"
	"github.com/oceanslim/nutmint/cashu/nuts/nut14"
	"github.com/oceanslim/nutmint/cashu/nuts/nutsct"
	"github.com/oceanslim/nutmint/crypto"
	"github.com/oceanslim/nutmint/mint/event"
	"github.com/oceanslim/nutmint/mint/lightning"
	"github.com/oceanslim/nutmint/mint/storage"
	"github.com/oceanslim/nutmint/mint/storage/sqlite"
)

const (
	QuoteExpiryMins = 10
	BOLT11_METHOD   = "bolt11"
	SAT_UNIT        = "sat"
)

type Mint struct {
	db storage.MintDB

	// active keysets
	activeKeysets map[string]crypto.MintKeyset

	// map of all keysets (both active and inactive)
	keysets map[string]crypto.MintKeyset

	lightningClient lightning.Client
	mintInfo        nut06.MintInfo
	limits          MintLimits
	events          *event.Bus
}

func LoadMint(config Config) (*Mint, error) {
	path := config.MintPath
	if len(path) == 0 {
		path = mintPath()
	}

	db, err := sqlite.NewSQLiteDB(path)
	if err != nil {
		log.Fatalf("error starting mint: %v", err)
	}

	seed, err := db.GetSeed()
	if err != nil {
		return nil, err
	}
	if seed == nil {
		for {
			seed, err = hdkeychain.GenerateSeed(32)
			if err == nil {
				err = db.SaveSeed(seed)
				if err != nil {
					return nil, err
				}
				break
			}
		}
	}

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}

	activeKeyset, err := crypto.GenerateKeyset(master, config.DerivationPathIdx, config.InputFeePpk)
	if err != nil {
		return nil, err
	}

	mint := &Mint{
		db:            db,
		activeKeysets: map[string]crypto.MintKeyset{activeKeyset.Id: *activeKeyset},
		limits:        config.Limits,
		events:        event.NewBus(),
	}

	dbKeysets, err := mint.db.GetKeysets()
	if err != nil {
		return nil, fmt.Errorf("error reading keysets from db: %v", err)
	}

	activeKeysetNew := true
	mintKeysets := make(map[string]crypto.MintKeyset)
	for _, dbkeyset := range dbKeysets {
		keysetSeed, err := hex.DecodeString(dbkeyset.Seed)
		if err != nil {
			return nil, err
		}

		keysetMaster, err := hdkeychain.NewMaster(keysetSeed, &chaincfg.MainNetParams)
		if err != nil {
			return nil, err
		}

		if dbkeyset.Id == activeKeyset.Id {
			activeKeysetNew = false
		}
		keyset, err := crypto.GenerateKeyset(keysetMaster, dbkeyset.DerivationPathIdx, dbkeyset.InputFeePpk)
		if err != nil {
			return nil, err
		}
		keyset.Active = dbkeyset.Active
		mintKeysets[keyset.Id] = *keyset
	}

	// save active keyset if new
	if activeKeysetNew {
		hexseed := hex.EncodeToString(seed)
		activeDbKeyset := storage.DBKeyset{
			Id:                activeKeyset.Id,
			Unit:              activeKeyset.Unit,
			Active:            true,
			Seed:              hexseed,
			DerivationPathIdx: activeKeyset.DerivationPathIdx,
			InputFeePpk:       activeKeyset.InputFeePpk,
		}
		err := mint.db.SaveKeyset(activeDbKeyset)
		if err != nil {
			return nil, fmt.Errorf("error saving new active keyset: %v", err)
		}
	}
	mint.keysets = mintKeysets
	mint.keysets[activeKeyset.Id] = *activeKeyset
	if config.LightningClient == nil {
		return nil, errors.New("invalid lightning client")
	}
	mint.lightningClient = config.LightningClient

	err = mint.SetMintInfo(config.MintInfo)
	if err != nil {
		return nil, fmt.Errorf("error setting mint info: %v", err)
	}

	for _, keyset := range mint.keysets {
		if keyset.Id != activeKeyset.Id && keyset.Active {
			keyset.Active = false
			mint.db.UpdateKeysetActive(keyset.Id, false)
			mint.keysets[keyset.Id] = keyset
		}
	}

	if err := mint.recoverPendingMelts(context.Background()); err != nil {
		log.Printf("warning: error recovering pending melt quotes: %v", err)
	}

	return mint, nil
}

// recoverPendingMelts re-checks every melt quote left PENDING from a prior
// run against the Lightning backend, so a crash mid-payment doesn't strand
// proofs in limbo until the next GetMeltQuoteState poll happens to come in.
func (m *Mint) recoverPendingMelts(ctx context.Context) error {
	quotes, err := m.db.ListPendingMeltQuotes()
	if err != nil {
		return err
	}
	for _, quote := range quotes {
		if _, err := m.GetMeltQuoteState(ctx, BOLT11_METHOD, quote.Id); err != nil {
			log.Printf("warning: error resolving pending melt quote %s on startup: %v", quote.Id, err)
		}
	}
	return nil
}

// mintPath returns the mint's path
// at $HOME/.nutmint/mint
func mintPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(homedir, ".nutmint", "mint")
	err = os.MkdirAll(path, 0700)
	if err != nil {
		log.Fatal(err)
	}
	return path
}

// RequestMintQuote will process a request to mint tokens
// and returns a mint quote or an error.
func (m *Mint) RequestMintQuote(method string, amount uint64, unit string) (storage.MintQuote, error) {
	// only support bolt11
	if method != BOLT11_METHOD {
		return storage.MintQuote{}, cashu.PaymentMethodNotSupportedErr
	}
	// only support sat unit
	if unit != SAT_UNIT {
		return storage.MintQuote{}, cashu.UnitNotSupportedErr
	}

	// check limits
	if m.limits.MintingSettings.MaxAmount > 0 {
		if amount > m.limits.MintingSettings.MaxAmount {
			return storage.MintQuote{}, cashu.MintAmountExceededErr
		}
	}
	if m.limits.MaxBalance > 0 {
		balance, err := m.db.GetBalance()
		if err != nil {
			return storage.MintQuote{}, err
		}
		if balance+amount > m.limits.MaxBalance {
			return storage.MintQuote{}, cashu.MintingDisabled
		}
	}

	// get an invoice from the lightning backend
	invoice, err := m.requestInvoice(amount)
	if err != nil {
		msg := fmt.Sprintf("error generating payment request: %v", err)
		return storage.MintQuote{}, cashu.BuildCashuError(msg, cashu.LightningBackendErrCode)
	}

	quoteId, err := cashu.GenerateRandomQuoteId()
	if err != nil {
		return storage.MintQuote{}, err
	}
	mintQuote := storage.MintQuote{
		Id:             quoteId,
		Amount:         amount,
		Unit:           unit,
		PaymentRequest: invoice.PaymentRequest,
		PaymentHash:    invoice.PaymentHash,
		State:          nut04.Unpaid,
		Expiry:         uint64(invoice.Expiry),
	}

	err = m.db.SaveMintQuote(mintQuote)
	if err != nil {
		msg := fmt.Sprintf("error saving mint quote to db: %v", err)
		return storage.MintQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}

	return mintQuote, nil
}

// GetMintQuoteState returns the state of a mint quote.
// Used to check whether a mint quote has been paid.
func (m *Mint) GetMintQuoteState(method, quoteId string) (storage.MintQuote, error) {
	if method != BOLT11_METHOD {
		return storage.MintQuote{}, cashu.PaymentMethodNotSupportedErr
	}

	mintQuote, err := m.db.GetMintQuote(quoteId)
	if err != nil {
		return storage.MintQuote{}, cashu.QuoteNotExistErr
	}

	// if previously unpaid, check if invoice has been paid
	if mintQuote.State == nut04.Unpaid {
		status, err := m.lightningClient.InvoiceStatus(mintQuote.PaymentHash)
		if err != nil {
			msg := fmt.Sprintf("error checking invoice status: %v", err)
			return storage.MintQuote{}, cashu.BuildCashuError(msg, cashu.LightningBackendErrCode)
		}
		if status.Paid {
			mintQuote.State = nut04.Paid
			err = m.db.UpdateMintQuoteState(mintQuote.Id, mintQuote.State)
			if err != nil {
				msg := fmt.Sprintf("error updating mint quote state: %v", err)
				return storage.MintQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
			}
			m.events.PublishMintQuote(mintQuote.Id, mintQuote.State)
		}
	}

	return mintQuote, nil
}

// MintTokens verifies that a mint quote has been paid and proceeds
// to sign the blinded messages, returning fresh blind signatures.
func (m *Mint) MintTokens(method, id string, blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	if method != BOLT11_METHOD {
		return nil, cashu.PaymentMethodNotSupportedErr
	}

	mintQuote, err := m.db.GetMintQuote(id)
	if err != nil {
		return nil, cashu.QuoteNotExistErr
	}

	if mintQuote.State == nut04.Unpaid {
		status, err := m.lightningClient.InvoiceStatus(mintQuote.PaymentHash)
		if err != nil {
			msg := fmt.Sprintf("error checking invoice status: %v", err)
			return nil, cashu.BuildCashuError(msg, cashu.LightningBackendErrCode)
		}
		if status.Paid {
			mintQuote.State = nut04.Paid
		} else {
			return nil, cashu.MintQuoteRequestNotPaid
		}
	}
	if mintQuote.State == nut04.Issued {
		return nil, cashu.MintQuoteAlreadyIssued
	}

	var outputsAmount uint64
	for _, msg := range blindedMessages {
		if outputsAmount+msg.Amount < outputsAmount {
			return nil, cashu.InvalidBlindedMessageAmount
		}
		outputsAmount += msg.Amount
	}
	if outputsAmount > mintQuote.Amount {
		return nil, cashu.OutputsOverQuoteAmountErr
	}

	B_s := make([]string, len(blindedMessages))
	for i, msg := range blindedMessages {
		B_s[i] = msg.B_
	}
	signatures, err := m.db.GetBlindSignatures(B_s)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			msg := fmt.Sprintf("could not check previously signed messages: %v", err)
			return nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
		}
	}
	if len(signatures) > 0 {
		return nil, cashu.BlindedMessageAlreadySigned
	}

	blindedSignatures, err := m.signBlindedMessages(blindedMessages)
	if err != nil {
		return nil, err
	}

	mintQuote.State = nut04.Issued
	err = m.db.UpdateMintQuoteState(mintQuote.Id, mintQuote.State)
	if err != nil {
		msg := fmt.Sprintf("error updating mint quote state: %v", err)
		return nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	m.events.PublishMintQuote(mintQuote.Id, mintQuote.State)

	return blindedSignatures, nil
}

// Swap verifies inputs, checks that outputs balance against inputs minus
// fees, and returns fresh signatures for the outputs while invalidating
// the inputs.
func (m *Mint) Swap(proofs cashu.Proofs, blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	Ys := make([]string, len(proofs))
	for i, proof := range proofs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return nil, cashu.InvalidProofErr
		}
		Ys[i] = hex.EncodeToString(Y.SerializeCompressed())
	}

	var outputsAmount uint64
	for _, msg := range blindedMessages {
		if outputsAmount+msg.Amount < outputsAmount {
			return nil, cashu.InvalidBlindedMessageAmount
		}
		outputsAmount += msg.Amount
	}

	fees := m.TransactionFees(proofs)
	proofsAmount := proofs.Amount()
	if proofsAmount < outputsAmount+uint64(fees) {
		return nil, cashu.InsufficientProofsAmount
	}
	if proofsAmount > outputsAmount+uint64(fees) {
		return nil, cashu.AmountUnbalancedErr
	}

	if err := m.verifyProofs(proofs, Ys); err != nil {
		return nil, err
	}

	// inputs and outputs must all belong to keysets of the same unit
	unit := m.keysets[proofs[0].Id].Unit
	for _, proof := range proofs {
		if m.keysets[proof.Id].Unit != unit {
			return nil, cashu.UnitMismatchErr
		}
	}
	for _, msg := range blindedMessages {
		if keyset, ok := m.keysets[msg.Id]; ok && keyset.Unit != unit {
			return nil, cashu.UnitMismatchErr
		}
	}

	B_s := make([]string, len(blindedMessages))
	for i, msg := range blindedMessages {
		B_s[i] = msg.B_
	}
	signatures, err := m.db.GetBlindSignatures(B_s)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			msg := fmt.Sprintf("could not check previously signed messages: %v", err)
			return nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
		}
	}
	if len(signatures) > 0 {
		return nil, cashu.BlindedMessageAlreadySigned
	}

	if nut11.ProofsSigAll(proofs) {
		if err := verifyP2PKBlindedMessages(proofs, blindedMessages); err != nil {
			return nil, err
		}
	}

	blindedSignatures, err := m.signBlindedMessages(blindedMessages)
	if err != nil {
		return nil, err
	}

	if err := m.db.SaveProofs(proofs); err != nil {
		msg := fmt.Sprintf("error invalidating proofs. Could not save proofs to db: %v", err)
		return nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	secrets := make([]string, len(proofs))
	for i, p := range proofs {
		secrets[i] = p.Secret
	}
	m.events.PublishProofState(nut07.Spent, Ys, secrets)

	return blindedSignatures, nil
}

// RequestMeltQuote processes a request to pay a bolt11 invoice, returning a
// melt quote with the amount and fee reserve the wallet must provide inputs
// for.
func (m *Mint) RequestMeltQuote(method, request, unit string) (storage.MeltQuote, error) {
	if method != BOLT11_METHOD {
		return storage.MeltQuote{}, cashu.PaymentMethodNotSupportedErr
	}
	if unit != SAT_UNIT {
		return storage.MeltQuote{}, cashu.UnitNotSupportedErr
	}

	bolt11, err := decodepay.Decodepay(request)
	if err != nil {
		return storage.MeltQuote{}, cashu.BuildCashuError("invalid invoice: "+err.Error(), cashu.InvoiceErrCode)
	}
	if bolt11.MSatoshi == 0 {
		return storage.MeltQuote{}, cashu.BuildCashuError("invoice has no amount", cashu.InvoiceErrCode)
	}
	satAmount := uint64(bolt11.MSatoshi) / 1000

	if m.limits.MeltingSettings.MaxAmount > 0 {
		if satAmount > m.limits.MeltingSettings.MaxAmount {
			return storage.MeltQuote{}, cashu.MeltAmountExceededErr
		}
	}

	quoteId, err := cashu.GenerateRandomQuoteId()
	if err != nil {
		return storage.MeltQuote{}, err
	}

	fee := m.lightningClient.FeeReserve(satAmount)
	meltQuote := storage.MeltQuote{
		Id:             quoteId,
		InvoiceRequest: request,
		PaymentHash:    bolt11.PaymentHash,
		Unit:           unit,
		Amount:         satAmount,
		FeeReserve:     fee,
		State:          nut05.Unpaid,
		Expiry:         uint64(time.Now().Add(QuoteExpiryMins * time.Minute).Unix()),
	}

	// if a mint quote for the same invoice exists, this melt can be settled
	// without going to the Lightning backend at all, so no fee is needed
	mintQuote, err := m.db.GetMintQuoteByPaymentHash(bolt11.PaymentHash)
	if err == nil {
		meltQuote.FeeReserve = 0
		meltQuote.InvoiceRequest = mintQuote.PaymentRequest
		meltQuote.PaymentHash = mintQuote.PaymentHash
	}

	err = m.db.SaveMeltQuote(meltQuote)
	if err != nil {
		msg := fmt.Sprintf("error saving melt quote to db: %v", err)
		return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}

	return meltQuote, nil
}

// GetMeltQuoteState returns the state of a melt quote, polling the
// Lightning backend for an update if the quote is currently pending.
func (m *Mint) GetMeltQuoteState(ctx context.Context, method, quoteId string) (storage.MeltQuote, error) {
	if method != BOLT11_METHOD {
		return storage.MeltQuote{}, cashu.PaymentMethodNotSupportedErr
	}

	meltQuote, err := m.db.GetMeltQuote(quoteId)
	if err != nil {
		return storage.MeltQuote{}, cashu.QuoteNotExistErr
	}

	// if quote is pending, check with backend if status of payment has changed
	if meltQuote.State == nut05.Pending {
		paymentStatus, err := m.lightningClient.OutgoingPaymentStatus(ctx, meltQuote.PaymentHash)
		if err != nil {
			return storage.MeltQuote{}, nil
		}

		switch paymentStatus.Status {
		case lightning.Pending:
			return meltQuote, nil

		case lightning.Succeeded:
			proofs, err := m.removePendingProofsForQuote(meltQuote.Id)
			if err != nil {
				msg := fmt.Sprintf("error removing pending proofs for quote: %v", err)
				return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
			}
			err = m.db.SaveProofs(proofs)
			if err != nil {
				msg := fmt.Sprintf("error invalidating proofs. Could not save proofs to db: %v", err)
				return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
			}

			meltQuote.State = nut05.Paid
			meltQuote.Preimage = paymentStatus.Preimage
			err = m.db.UpdateMeltQuote(meltQuote.Id, paymentStatus.Preimage, nut05.Paid)
			if err != nil {
				msg := fmt.Sprintf("error updating melt quote state: %v", err)
				return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
			}
			meltQuote, err = m.signMeltChange(meltQuote, paymentStatus.PaymentFee)
			if err != nil {
				return storage.MeltQuote{}, err
			}
			m.events.PublishMeltQuote(meltQuote.Id, meltQuote.State)

		case lightning.Failed:
			meltQuote.State = nut05.Unpaid
			err = m.db.UpdateMeltQuote(meltQuote.Id, "", meltQuote.State)
			if err != nil {
				msg := fmt.Sprintf("error updating melt quote state: %v", err)
				return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
			}
			_, err = m.removePendingProofsForQuote(meltQuote.Id)
			if err != nil {
				msg := fmt.Sprintf("error removing pending proofs for quote: %v", err)
				return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
			}
			m.events.PublishMeltQuote(meltQuote.Id, meltQuote.State)
		}
	}

	return meltQuote, nil
}

func (m *Mint) removePendingProofsForQuote(quoteId string) (cashu.Proofs, error) {
	dbproofs, err := m.db.GetPendingProofsByQuote(quoteId)
	if err != nil {
		return nil, err
	}

	proofs := make(cashu.Proofs, len(dbproofs))
	Ys := make([]string, len(dbproofs))
	for i, dbproof := range dbproofs {
		Ys[i] = dbproof.Y

		proofs[i] = cashu.Proof{
			Amount: dbproof.Amount,
			Id:     dbproof.Id,
			Secret: dbproof.Secret,
			C:      dbproof.C,
		}
	}

	err = m.db.RemovePendingProofs(Ys)
	if err != nil {
		return nil, err
	}

	return proofs, nil
}

// MeltTokens verifies whether proofs provided are valid, attempts payment,
// and, once the payment's actual cost is known, signs any leftover fee
// reserve into the wallet-supplied blank outputs as change.
func (m *Mint) MeltTokens(ctx context.Context, method, quoteId string, proofs cashu.Proofs, outputs cashu.BlindedMessages) (storage.MeltQuote, error) {
	var proofsAmount uint64
	Ys := make([]string, len(proofs))
	for i, proof := range proofs {
		proofsAmount += proof.Amount

		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return storage.MeltQuote{}, cashu.InvalidProofErr
		}
		Ys[i] = hex.EncodeToString(Y.SerializeCompressed())
	}

	if method != BOLT11_METHOD {
		return storage.MeltQuote{}, cashu.PaymentMethodNotSupportedErr
	}

	meltQuote, err := m.db.GetMeltQuote(quoteId)
	if err != nil {
		return storage.MeltQuote{}, cashu.QuoteNotExistErr
	}
	if meltQuote.State == nut05.Paid {
		return storage.MeltQuote{}, cashu.MeltQuoteAlreadyPaid
	}
	if meltQuote.State == nut05.Pending {
		return storage.MeltQuote{}, cashu.MeltQuotePending
	}

	if err := m.verifyMeltChangeOutputs(outputs, meltQuote.Unit, meltQuote.FeeReserve); err != nil {
		return storage.MeltQuote{}, err
	}

	err = m.verifyProofs(proofs, Ys)
	if err != nil {
		return storage.MeltQuote{}, err
	}

	fees := m.TransactionFees(proofs)
	if proofsAmount < meltQuote.Amount+meltQuote.FeeReserve+uint64(fees) {
		return storage.MeltQuote{}, cashu.InsufficientProofsAmount
	}

	if nut11.ProofsSigAll(proofs) {
		return storage.MeltQuote{}, nut11.SigAllOnlySwap
	}

	// set proofs as pending before trying to make payment
	err = m.db.AddPendingProofs(proofs, meltQuote.Id)
	if err != nil {
		msg := fmt.Sprintf("error setting proofs as pending in db: %v", err)
		return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	meltQuote.State = nut05.Pending
	meltQuote.BlankOutputs = outputs
	err = m.db.UpdateMeltQuote(meltQuote.Id, "", nut05.Pending)
	if err != nil {
		msg := fmt.Sprintf("error updating melt quote state: %v", err)
		return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	if err := m.db.SetMeltQuoteBlankOutputs(meltQuote.Id, outputs); err != nil {
		msg := fmt.Sprintf("error saving blank outputs for fee change: %v", err)
		return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	m.events.PublishMeltQuote(meltQuote.Id, meltQuote.State)

	// before asking backend to send payment, check if quotes can be settled
	// internally (i.e mint and melt quotes exist with the same invoice)
	mintQuote, err := m.db.GetMintQuoteByPaymentHash(meltQuote.PaymentHash)
	if err == nil {
		meltQuote, err = m.settleQuotesInternally(mintQuote, meltQuote)
		if err != nil {
			return storage.MeltQuote{}, err
		}
		if err := m.db.RemovePendingProofs(Ys); err != nil {
			msg := fmt.Sprintf("error removing pending proofs: %v", err)
			return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
		}
		if err := m.db.SaveProofs(proofs); err != nil {
			msg := fmt.Sprintf("error invalidating proofs. Could not save proofs to db: %v", err)
			return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
		}
		m.events.PublishMeltQuote(meltQuote.Id, meltQuote.State)
		return meltQuote, nil
	}

	// if quote can't be settled internally, ask backend to make payment
	sendPaymentResponse, err := m.lightningClient.SendPayment(ctx, meltQuote.InvoiceRequest, meltQuote.FeeReserve)
	if err != nil {
		if strings.Contains(err.Error(), "payment error") {
			meltQuote.State = nut05.Unpaid
			if err := m.db.UpdateMeltQuote(meltQuote.Id, "", meltQuote.State); err != nil {
				msg := fmt.Sprintf("error updating melt quote state: %v", err)
				return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
			}
			if err := m.db.RemovePendingProofs(Ys); err != nil {
				msg := fmt.Sprintf("error removing proofs from pending: %v", err)
				return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
			}
			m.events.PublishMeltQuote(meltQuote.Id, meltQuote.State)
			return meltQuote, nil
		}

		// if SendPayment failed for something other than payment error,
		// do not return yet, an extra check will be done
		sendPaymentResponse.Status = lightning.Failed
	}

	switch sendPaymentResponse.Status {
	case lightning.Succeeded:
		meltQuote.State = nut05.Paid
		meltQuote.Preimage = sendPaymentResponse.Preimage
		err = m.settleProofs(Ys, proofs)
		if err != nil {
			return storage.MeltQuote{}, err
		}
		err = m.db.UpdateMeltQuote(meltQuote.Id, sendPaymentResponse.Preimage, nut05.Paid)
		if err != nil {
			msg := fmt.Sprintf("error updating melt quote state: %v", err)
			return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
		}
		meltQuote, err = m.signMeltChange(meltQuote, sendPaymentResponse.PaymentFee)
		if err != nil {
			return storage.MeltQuote{}, err
		}
		m.events.PublishMeltQuote(meltQuote.Id, meltQuote.State)

	case lightning.Pending:
		return meltQuote, nil

	case lightning.Failed:
		paymentStatus, err := m.lightningClient.OutgoingPaymentStatus(ctx, meltQuote.PaymentHash)
		if err != nil {
			return storage.MeltQuote{}, nil
		}
		if paymentStatus.Status == lightning.Pending {
			return meltQuote, nil
		}
		if paymentStatus.Status == lightning.Failed {
			meltQuote.State = nut05.Unpaid
			if err := m.db.UpdateMeltQuote(meltQuote.Id, "", meltQuote.State); err != nil {
				msg := fmt.Sprintf("error updating melt quote state: %v", err)
				return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
			}
			if err := m.db.RemovePendingProofs(Ys); err != nil {
				msg := fmt.Sprintf("error removing proofs from pending: %v", err)
				return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
			}
			m.events.PublishMeltQuote(meltQuote.Id, meltQuote.State)
		}

		if paymentStatus.Status == lightning.Succeeded {
			err = m.settleProofs(Ys, proofs)
			if err != nil {
				return storage.MeltQuote{}, err
			}
			meltQuote.State = nut05.Paid
			meltQuote.Preimage = paymentStatus.Preimage
			if err := m.db.UpdateMeltQuote(meltQuote.Id, paymentStatus.Preimage, nut05.Paid); err != nil {
				msg := fmt.Sprintf("error updating melt quote state: %v", err)
				return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
			}
			meltQuote, err = m.signMeltChange(meltQuote, paymentStatus.PaymentFee)
			if err != nil {
				return storage.MeltQuote{}, err
			}
			m.events.PublishMeltQuote(meltQuote.Id, meltQuote.State)
		}
	}

	return meltQuote, nil
}

// verifyMeltChangeOutputs checks the wallet-supplied blank outputs for a melt
// request: there can be no more of them than cashu.BlankOutputsCount allows
// for the quote's fee reserve, every one must be amount-0 (its denomination
// is assigned later, once the actual change is known), and each must be
// keyed to an active keyset of the quote's unit.
func (m *Mint) verifyMeltChangeOutputs(outputs cashu.BlindedMessages, unit string, feeReserve uint64) error {
	if max := cashu.BlankOutputsCount(feeReserve); len(outputs) > max {
		return cashu.OutputsOverQuoteAmountErr
	}
	for _, msg := range outputs {
		if msg.Amount != 0 {
			return cashu.InvalidBlindedMessageAmount
		}
		keyset, ok := m.keysets[msg.Id]
		if !ok {
			return cashu.UnknownKeysetErr
		}
		if keyset.Unit != unit {
			return cashu.UnitMismatchErr
		}
		if _, ok := m.activeKeysets[msg.Id]; !ok {
			return cashu.InactiveKeysetSignatureRequest
		}
	}
	return nil
}

// signMeltChange signs the leftover fee reserve into quote's blank outputs
// once actualFeePaid is known, persisting the result as quote.Change. A quote
// with no blank outputs, or no leftover reserve, is returned unchanged.
func (m *Mint) signMeltChange(quote storage.MeltQuote, actualFeePaid uint64) (storage.MeltQuote, error) {
	if len(quote.BlankOutputs) == 0 {
		return quote, nil
	}

	var feeChange uint64
	if quote.FeeReserve > actualFeePaid {
		feeChange = quote.FeeReserve - actualFeePaid
	}
	if feeChange == 0 {
		return quote, nil
	}

	split := cashu.AmountSplit(feeChange)
	n := len(split)
	if n > len(quote.BlankOutputs) {
		n = len(quote.BlankOutputs)
	}

	changeOutputs := make(cashu.BlindedMessages, n)
	for i := 0; i < n; i++ {
		changeOutputs[i] = quote.BlankOutputs[i]
		changeOutputs[i].Amount = split[i]
	}

	signatures, err := m.signBlindedMessages(changeOutputs)
	if err != nil {
		msg := fmt.Sprintf("error signing melt fee change: %v", err)
		return quote, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}

	quote.Change = signatures
	if err := m.db.SetMeltQuoteChange(quote.Id, signatures); err != nil {
		msg := fmt.Sprintf("error saving melt fee change: %v", err)
		return quote, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	return quote, nil
}

// if a pair of mint and melt quotes have the same invoice,
// settle them internally and update in db
func (m *Mint) settleQuotesInternally(
	mintQuote storage.MintQuote,
	meltQuote storage.MeltQuote,
) (storage.MeltQuote, error) {
	// need to get the invoice from the backend first to get the preimage
	invoice, err := m.lightningClient.InvoiceStatus(mintQuote.PaymentHash)
	if err != nil {
		msg := fmt.Sprintf("error getting invoice status from lightning backend: %v", err)
		return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.LightningBackendErrCode)
	}

	meltQuote.State = nut05.Paid
	meltQuote.Preimage = invoice.Preimage
	err = m.db.UpdateMeltQuote(meltQuote.Id, meltQuote.Preimage, meltQuote.State)
	if err != nil {
		msg := fmt.Sprintf("error updating melt quote state: %v", err)
		return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}

	// no lightning fee is ever paid for an internal settlement, so the
	// entire fee reserve becomes change
	meltQuote, err = m.signMeltChange(meltQuote, 0)
	if err != nil {
		return storage.MeltQuote{}, err
	}

	// mark mint quote request as paid
	mintQuote.State = nut04.Paid
	err = m.db.UpdateMintQuoteState(mintQuote.Id, mintQuote.State)
	if err != nil {
		msg := fmt.Sprintf("error updating mint quote state: %v", err)
		return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	m.events.PublishMintQuote(mintQuote.Id, mintQuote.State)

	return meltQuote, nil
}

// settleProofs will remove the proofs from the pending table
// and mark them as spent by adding them to the used proofs table
func (m *Mint) settleProofs(Ys []string, proofs cashu.Proofs) error {
	err := m.db.RemovePendingProofs(Ys)
	if err != nil {
		msg := fmt.Sprintf("error removing pending proofs: %v", err)
		return cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	err = m.db.SaveProofs(proofs)
	if err != nil {
		msg := fmt.Sprintf("error invalidating proofs. Could not save proofs to db: %v", err)
		return cashu.BuildCashuError(msg, cashu.DBErrCode)
	}

	secrets := make([]string, len(proofs))
	for i, p := range proofs {
		secrets[i] = p.Secret
	}
	m.events.PublishProofState(nut07.Spent, Ys, secrets)

	return nil
}

func (m *Mint) ProofsStateCheck(Ys []string) ([]nut07.ProofState, error) {
	usedProofs, err := m.db.GetProofsUsed(Ys)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			msg := fmt.Sprintf("could not get used proofs from db: %v", err)
			return nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
		}
	}
	pendingProofs, err := m.db.GetPendingProofs(Ys)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			msg := fmt.Sprintf("could not get pending proofs from db: %v", err)
			return nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
		}
	}

	proofStates := make([]nut07.ProofState, len(Ys))
	for i, y := range Ys {
		state := nut07.Unspent

		if slices.ContainsFunc(usedProofs, func(proof storage.DBProof) bool { return proof.Y == y }) {
			state = nut07.Spent
		} else if slices.ContainsFunc(pendingProofs, func(proof storage.DBProof) bool { return proof.Y == y }) {
			state = nut07.Pending
		}

		proofStates[i] = nut07.ProofState{Y: y, State: state}
	}

	return proofStates, nil
}

func (m *Mint) RestoreSignatures(blindedMessages cashu.BlindedMessages) (cashu.BlindedMessages, cashu.BlindedSignatures, error) {
	outputs := make(cashu.BlindedMessages, 0, len(blindedMessages))
	signatures := make(cashu.BlindedSignatures, 0, len(blindedMessages))

	for _, bm := range blindedMessages {
		sig, err := m.db.GetBlindSignature(bm.B_)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		} else if err != nil {
			msg := fmt.Sprintf("could not get signature from db: %v", err)
			return nil, nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
		}
		if sig.C_ == "" {
			continue
		}

		outputs = append(outputs, bm)
		signatures = append(signatures, sig)
	}

	return outputs, signatures, nil
}

// verifyProofs checks that each proof belongs to a known keyset, is neither
// pending nor already spent, and carries a valid unblinded signature. If the
// proof's secret is a well-known P2PK, HTLC, or SCT secret, its spending
// condition's witness is evaluated as well.
func (m *Mint) verifyProofs(proofs cashu.Proofs, Ys []string) error {
	if len(proofs) == 0 {
		return cashu.NoProofsProvided
	}

	pendingProofs, err := m.db.GetPendingProofs(Ys)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			msg := fmt.Sprintf("could not get pending proofs from db: %v", err)
			return cashu.BuildCashuError(msg, cashu.DBErrCode)
		}
	}
	if len(pendingProofs) != 0 {
		return cashu.ProofPendingErr
	}

	usedProofs, err := m.db.GetProofsUsed(Ys)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			msg := fmt.Sprintf("could not get used proofs from db: %v", err)
			return cashu.BuildCashuError(msg, cashu.DBErrCode)
		}
	}
	if len(usedProofs) != 0 {
		return cashu.ProofAlreadyUsedErr
	}

	if cashu.CheckDuplicateProofs(proofs) {
		return cashu.DuplicateProofs
	}

	for _, proof := range proofs {
		// check that id in the proof matches id of any
		// of the mint's keysets
		var k *secp256k1.PrivateKey
		keyset, ok := m.keysets[proof.Id]
		if !ok {
			return cashu.UnknownKeysetErr
		}
		key, ok := keyset.Keys[proof.Amount]
		if !ok {
			return cashu.InvalidProofErr
		}
		k = key.PrivateKey

		if err := verifySpendingCondition(proof, time.Now().Unix()); err != nil {
			return err
		}

		Cbytes, err := hex.DecodeString(proof.C)
		if err != nil {
			return cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
		}

		C, err := secp256k1.ParsePubKey(Cbytes)
		if err != nil {
			return cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
		}

		if !crypto.Verify(proof.Secret, k, C) {
			return cashu.InvalidProofErr
		}
	}
	return nil
}

// verifySpendingCondition dispatches on the kind of well-known secret a
// proof carries: P2PK and HTLC are checked directly; SCT recurses into
// whichever of the two the revealed leaf secret turns out to be (or accepts
// an opaque leaf with no further condition).
func verifySpendingCondition(proof cashu.Proof, now int64) error {
	secret, err := nut10.DeserializeSecret(proof.Secret)
	if err != nil {
		// not a well-known secret: opaque secret, no spending condition to check
		return nil
	}

	switch secret.Kind {
	case nut10.P2PK:
		return verifyP2PKLockedProof(proof)
	case nut10.HTLC:
		witness, err := nut14.ParseWitness(proof.Witness)
		if err != nil {
			return err
		}
		return nut14.VerifyHTLC(secret, proof.Secret, witness, now)
	case nut10.SCT:
		witness, err := nutsct.ParseWitness(proof.Witness)
		if err != nil {
			return err
		}
		return nutsct.Verify(secret.Data, witness, func(leafSecret string) error {
			leafProof := cashu.Proof{Amount: proof.Amount, Id: proof.Id, Secret: leafSecret, C: proof.C}
			return verifySpendingCondition(leafProof, now)
		})
	}
	return nil
}

func verifyP2PKLockedProof(proof cashu.Proof) error {
	p2pkWellKnownSecret, err := nut10.DeserializeSecret(proof.Secret)
	if err != nil {
		return cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
	}

	p2pkWitness := nut11.ParseWitness(proof.Witness)

	p2pkTags, err := nut11.ParseP2PKTags(p2pkWellKnownSecret.Tags)
	if err != nil {
		return err
	}

	signaturesRequired := 1
	// if locktime is expired and there is no refund pubkey, treat as anyone can spend
	// if refund pubkey present, check signature
	if p2pkTags.Locktime > 0 && time.Now().Local().Unix() > p2pkTags.Locktime {
		if len(p2pkTags.Refund) == 0 {
			return nil
		}
		hash := sha256.Sum256([]byte(proof.Secret))
		if len(p2pkWitness.Signatures) < 1 {
			return nut11.InvalidWitness
		}
		if !nut11.HasValidSignatures(hash[:], p2pkWitness, signaturesRequired, p2pkTags.Refund) {
			return nut11.NotEnoughSignaturesErr
		}
	} else {
		pubkey, err := nut11.ParsePublicKey(p2pkWellKnownSecret.Data)
		if err != nil {
			return err
		}
		keys := []*btcec.PublicKey{pubkey}
		hash := sha256.Sum256([]byte(proof.Secret))

		if p2pkTags.NSigs > 0 {
			signaturesRequired = p2pkTags.NSigs
			if len(p2pkTags.Pubkeys) == 0 {
				return nut11.EmptyPubkeysErr
			}
			keys = append(keys, p2pkTags.Pubkeys...)
		}

		if len(p2pkWitness.Signatures) < 1 {
			return nut11.InvalidWitness
		}
		if !nut11.HasValidSignatures(hash[:], p2pkWitness, signaturesRequired, keys) {
			return nut11.NotEnoughSignaturesErr
		}
	}
	return nil
}

func verifyP2PKBlindedMessages(proofs cashu.Proofs, blindedMessages cashu.BlindedMessages) error {
	secret, err := nut10.DeserializeSecret(proofs[0].Secret)
	if err != nil {
		return cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
	}
	pubkeys, err := nut11.PublicKeys(secret)
	if err != nil {
		return err
	}

	signaturesRequired := 1
	p2pkTags, err := nut11.ParseP2PKTags(secret.Tags)
	if err != nil {
		return err
	}
	if p2pkTags.NSigs > 0 {
		signaturesRequired = p2pkTags.NSigs
	}

	// Check that the conditions across all proofs are the same
	for _, proof := range proofs {
		proofSecret, err := nut10.DeserializeSecret(proof.Secret)
		if err != nil {
			return cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
		}
		if !nut11.IsSigAll(proofSecret) {
			return nut11.AllSigAllFlagsErr
		}

		currentSignaturesRequired := 1
		currentTags, err := nut11.ParseP2PKTags(proofSecret.Tags)
		if err != nil {
			return err
		}
		if currentTags.NSigs > 0 {
			currentSignaturesRequired = currentTags.NSigs
		}

		currentKeys, err := nut11.PublicKeys(proofSecret)
		if err != nil {
			return err
		}

		if !reflect.DeepEqual(pubkeys, currentKeys) {
			return nut11.SigAllKeysMustBeEqualErr
		}
		if signaturesRequired != currentSignaturesRequired {
			return nut11.NSigsMustBeEqualErr
		}
	}

	for _, bm := range blindedMessages {
		B_bytes, err := hex.DecodeString(bm.B_)
		if err != nil {
			return cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
		}
		hash := sha256.Sum256(B_bytes)

		witness := nut11.ParseWitness(bm.Witness)
		if len(witness.Signatures) < 1 {
			return nut11.InvalidWitness
		}

		if !nut11.HasValidSignatures(hash[:], witness, signaturesRequired, pubkeys) {
			return nut11.NotEnoughSignaturesErr
		}
	}

	return nil
}

// signBlindedMessages will sign the blindedMessages and
// return the blindedSignatures
func (m *Mint) signBlindedMessages(blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	blindedSignatures := make(cashu.BlindedSignatures, len(blindedMessages))

	for i, msg := range blindedMessages {
		if _, ok := m.keysets[msg.Id]; !ok {
			return nil, cashu.UnknownKeysetErr
		}
		var k *secp256k1.PrivateKey
		keyset, ok := m.activeKeysets[msg.Id]
		if !ok {
			return nil, cashu.InactiveKeysetSignatureRequest
		}
		key, ok := keyset.Keys[msg.Amount]
		if !ok {
			return nil, cashu.InvalidBlindedMessageAmount
		}
		k = key.PrivateKey

		B_bytes, err := hex.DecodeString(msg.B_)
		if err != nil {
			return nil, cashu.StandardErr
		}
		B_, err := btcec.ParsePubKey(B_bytes)
		if err != nil {
			return nil, cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
		}

		C_ := crypto.SignBlindedMessage(B_, k)
		C_hex := hex.EncodeToString(C_.SerializeCompressed())

		e, s := crypto.GenerateDLEQ(k, B_, C_)

		blindedSignature := cashu.BlindedSignature{
			Amount: msg.Amount,
			C_:     C_hex,
			Id:     keyset.Id,
			DLEQ: &cashu.DLEQProof{
				E: hex.EncodeToString(e.Serialize()),
				S: hex.EncodeToString(s.Serialize()),
			},
		}

		blindedSignatures[i] = blindedSignature

		if err := m.db.SaveBlindSignature(msg.B_, blindedSignature); err != nil {
			msg := fmt.Sprintf("error saving signatures: %v", err)
			return nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
		}
	}

	return blindedSignatures, nil
}

// requestInvoice requests an invoice from the Lightning backend
// for the given amount
func (m *Mint) requestInvoice(amount uint64) (*lightning.Invoice, error) {
	invoice, err := m.lightningClient.CreateInvoice(amount)
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (m *Mint) TransactionFees(inputs cashu.Proofs) uint {
	var fees uint = 0
	for _, proof := range inputs {
		// note: not checking that proof id is from valid keyset
		// because already doing that in call to verifyProofs
		fees += m.keysets[proof.Id].InputFeePpk
	}
	return (fees + 999) / 1000
}

func (m *Mint) GetActiveKeyset() crypto.MintKeyset {
	var keyset crypto.MintKeyset
	for _, k := range m.activeKeysets {
		keyset = k
		break
	}
	return keyset
}

func (m *Mint) Keysets() map[string]crypto.MintKeyset {
	return m.keysets
}

func (m *Mint) ActiveKeysets() map[string]crypto.MintKeyset {
	return m.activeKeysets
}

func (m *Mint) Events() *event.Bus {
	return m.events
}

func (m *Mint) SetMintInfo(mintInfo MintInfo) error {
	nuts := nut06.NutsMap{
		4: nut06.NutSetting{
			Methods: []nut06.MethodSetting{
				{
					Method:    BOLT11_METHOD,
					Unit:      SAT_UNIT,
					MinAmount: m.limits.MintingSettings.MinAmount,
					MaxAmount: m.limits.MintingSettings.MaxAmount,
				},
			},
			Disabled: false,
		},
		5: nut06.NutSetting{
			Methods: []nut06.MethodSetting{
				{
					Method:    BOLT11_METHOD,
					Unit:      SAT_UNIT,
					MinAmount: m.limits.MeltingSettings.MinAmount,
					MaxAmount: m.limits.MeltingSettings.MaxAmount,
				},
			},
			Disabled: false,
		},
		7:  map[string]bool{"supported": true},
		8:  map[string]bool{"supported": true},
		9:  map[string]bool{"supported": true},
		10: map[string]bool{"supported": true},
		11: map[string]bool{"supported": true},
		12: map[string]bool{"supported": true},
		14: map[string]bool{"supported": true},
	}

	info := nut06.MintInfo{
		Name:            mintInfo.Name,
		Version:         "nutmint/0.1.0",
		Description:     mintInfo.Description,
		LongDescription: mintInfo.LongDescription,
		Contact:         mintInfo.Contact,
		Motd:            mintInfo.Motd,
		Nuts:            nuts,
	}
	m.mintInfo = info
	return nil
}

func (m *Mint) RetrieveMintInfo() (nut06.MintInfo, error) {
	seed, err := m.db.GetSeed()
	if err != nil {
		return nut06.MintInfo{}, err
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nut06.MintInfo{}, err
	}
	publicKey, err := master.ECPubKey()
	if err != nil {
		return nut06.MintInfo{}, err
	}

	mintingDisabled := false
	mintBalance, err := m.db.GetBalance()
	if err != nil {
		msg := fmt.Sprintf("error getting mint balance: %v", err)
		return nut06.MintInfo{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}

	if m.limits.MaxBalance > 0 {
		if mintBalance >= m.limits.MaxBalance {
			mintingDisabled = true
		}
	}
	nut04setting := m.mintInfo.Nuts[4].(nut06.NutSetting)
	nut04setting.Disabled = mintingDisabled
	m.mintInfo.Nuts[4] = nut04setting
	m.mintInfo.Pubkey = hex.EncodeToString(publicKey.SerializeCompressed())

	return m.mintInfo, nil
}
