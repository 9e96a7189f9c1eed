// Package web3test provides an in-memory ledger for tests of packages that
// depend on web3.Reader and web3.Writer.
package web3test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	xerrors "OpenMCP-Sui/internal/errors"
	"OpenMCP-Sui/internal/web3"
)

// Contact is one raw AddressBook entry.
type Contact struct {
	Key  string
	Data []byte
}

// Submission records one Execute call.
type Submission struct {
	TxBytes    string
	Signatures []string
}

// Ledger is a programmable web3.Client.
type Ledger struct {
	mu sync.Mutex

	owned    map[string][]web3.ObjectRef
	objects  map[string]*web3.ObjectContent
	fields   map[string]*web3.ObjectContent
	balances map[string]string
	coins    map[string][]web3.Coin
	statuses map[string]*web3.TransactionStatus

	// ReadErr, when set, is returned by every read.
	ReadErr error
	// BuildErr, when set, is returned by BuildMoveCall and BuildPay.
	BuildErr error
	// ExecuteResponse overrides the default successful execution.
	ExecuteResponse *web3.ExecutionResponse

	MoveCalls   []web3.MoveCallRequest
	Pays        []web3.PayRequest
	Submissions []Submission
	ReadCalls   int
}

var _ web3.Client = (*Ledger)(nil)

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		owned:    map[string][]web3.ObjectRef{},
		objects:  map[string]*web3.ObjectContent{},
		fields:   map[string]*web3.ObjectContent{},
		balances: map[string]string{},
		coins:    map[string][]web3.Coin{},
		statuses: map[string]*web3.TransactionStatus{},
	}
}

// SetBalance sets the balance of coinType for owner.
func (l *Ledger) SetBalance(owner, coinType, balance string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[owner+"|"+coinType] = balance
}

// AddCoin gives owner a coin object.
func (l *Ledger) AddCoin(owner string, coin web3.Coin) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := owner + "|" + coin.CoinType
	l.coins[key] = append(l.coins[key], coin)
}

// SetObject stores an object with the given Move fields.
func (l *Ledger) SetObject(objectID, moveType string, fields any) {
	raw, err := json.Marshal(fields)
	if err != nil {
		panic(err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.objects[objectID] = &web3.ObjectContent{ObjectID: objectID, Type: moveType, DataType: "moveObject", Fields: raw}
}

// SetDynamicField stores a dynamic field value under parentID.
func (l *Ledger) SetDynamicField(parentID string, name any, fields any) {
	raw, err := json.Marshal(fields)
	if err != nil {
		panic(err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fields[fmt.Sprintf("%s|%v", parentID, name)] = &web3.ObjectContent{DataType: "moveObject", Fields: raw}
}

// GiveObject makes owner own objectID of structType.
func (l *Ledger) GiveObject(owner, structType, objectID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := owner + "|" + structType
	l.owned[key] = append(l.owned[key], web3.ObjectRef{ObjectID: objectID, Type: structType, Version: "1"})
}

// SetAddressBook creates an AddressBook owned by owner with the given raw
// contacts, laid out as the node renders a VecMap.
func (l *Ledger) SetAddressBook(owner, structType, objectID string, contacts ...Contact) {
	contents := make([]any, 0, len(contacts))
	for _, c := range contacts {
		nums := make([]int, len(c.Data))
		for i, b := range c.Data {
			nums[i] = int(b)
		}
		contents = append(contents, map[string]any{
			"type": "0x2::vec_map::Entry<0x1::string::String, Contact>",
			"fields": map[string]any{
				"key": c.Key,
				"value": map[string]any{
					"type": "Contact",
					"fields": map[string]any{
						"encrypted_data": nums,
						"nonce":          []int{1, 2, 3},
						"created_at":     "1700000000",
						"updated_at":     "1700000000",
					},
				},
			},
		})
	}
	l.GiveObject(owner, structType, objectID)
	l.SetObject(objectID, structType, map[string]any{
		"id":            map[string]any{"id": objectID},
		"owner":         owner,
		"contact_count": fmt.Sprint(len(contacts)),
		"contacts": map[string]any{
			"type":   "0x2::vec_map::VecMap<0x1::string::String, Contact>",
			"fields": map[string]any{"contents": contents},
		},
	})
}

// SetTransactionStatus registers a finalized transaction.
func (l *Ledger) SetTransactionStatus(status web3.TransactionStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[status.Digest] = &status
}

func (l *Ledger) read() error {
	l.ReadCalls++
	return l.ReadErr
}

func (l *Ledger) OwnedObjectsByType(_ context.Context, owner, structType string) ([]web3.ObjectRef, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.read(); err != nil {
		return nil, err
	}
	return append([]web3.ObjectRef(nil), l.owned[owner+"|"+structType]...), nil
}

func (l *Ledger) ObjectContents(_ context.Context, objectID string) (*web3.ObjectContent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.read(); err != nil {
		return nil, err
	}
	obj, ok := l.objects[objectID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "object "+objectID+" does not exist")
	}
	clone := *obj
	return &clone, nil
}

func (l *Ledger) DynamicFieldObject(_ context.Context, parentID string, name web3.DynamicFieldName) (*web3.ObjectContent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.read(); err != nil {
		return nil, err
	}
	obj, ok := l.fields[fmt.Sprintf("%s|%v", parentID, name.Value)]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "dynamic field not found")
	}
	clone := *obj
	return &clone, nil
}

func (l *Ledger) Balance(_ context.Context, owner, coinType string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.read(); err != nil {
		return "", err
	}
	if b, ok := l.balances[owner+"|"+coinType]; ok {
		return b, nil
	}
	return "0", nil
}

func (l *Ledger) Coins(_ context.Context, owner, coinType string) ([]web3.Coin, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.read(); err != nil {
		return nil, err
	}
	return append([]web3.Coin(nil), l.coins[owner+"|"+coinType]...), nil
}

func (l *Ledger) TransactionStatus(_ context.Context, digest string) (*web3.TransactionStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.read(); err != nil {
		return nil, err
	}
	status, ok := l.statuses[digest]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "transaction "+digest+" not found")
	}
	clone := *status
	return &clone, nil
}

func (l *Ledger) BuildMoveCall(_ context.Context, req web3.MoveCallRequest) (*web3.TransactionBlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.BuildErr != nil {
		return nil, l.BuildErr
	}
	l.MoveCalls = append(l.MoveCalls, req)
	payload := fmt.Sprintf("move:%s::%s::%s", req.Package, req.Module, req.Function)
	return &web3.TransactionBlock{TxBytes: base64.StdEncoding.EncodeToString([]byte(payload))}, nil
}

func (l *Ledger) BuildPay(_ context.Context, req web3.PayRequest) (*web3.TransactionBlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.BuildErr != nil {
		return nil, l.BuildErr
	}
	l.Pays = append(l.Pays, req)
	payload := fmt.Sprintf("pay:%v->%v", req.Amounts, req.Recipients)
	return &web3.TransactionBlock{TxBytes: base64.StdEncoding.EncodeToString([]byte(payload))}, nil
}

func (l *Ledger) Execute(_ context.Context, txBytes string, signatures []string) (*web3.ExecutionResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Submissions = append(l.Submissions, Submission{TxBytes: txBytes, Signatures: signatures})
	if l.ExecuteResponse != nil {
		clone := *l.ExecuteResponse
		return &clone, nil
	}
	return &web3.ExecutionResponse{
		Digest:  fmt.Sprintf("digest-%d", len(l.Submissions)),
		Status:  "success",
		Effects: map[string]any{"status": map[string]any{"status": "success"}},
	}, nil
}

func (l *Ledger) Close() {}
