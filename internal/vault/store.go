package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "OpenMCP-Intent/internal/errors"
)

// Record 是持久化的一条凭证。
type Record struct {
	Wallet    string    `json:"wallet"`
	Provider  string    `json:"provider"`
	Envelope  Envelope  `json:"envelope"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store 持久化凭证信封，不接触明文。
type Store interface {
	PutCredential(ctx context.Context, rec Record) error
	GetCredential(ctx context.Context, wallet, provider string) (Record, bool, error)
	DeleteCredential(ctx context.Context, wallet, provider string) error
}

// MemoryStore 是进程内的凭证存储。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore 创建内存凭证存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func recordKey(wallet, provider string) string {
	return strings.ToLower(wallet) + "|" + strings.ToLower(provider)
}

// PutCredential 实现 Store。
func (m *MemoryStore) PutCredential(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recordKey(rec.Wallet, rec.Provider)] = rec
	return nil
}

// GetCredential 实现 Store。
func (m *MemoryStore) GetCredential(_ context.Context, wallet, provider string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordKey(wallet, provider)]
	return rec, ok, nil
}

// DeleteCredential 实现 Store。
func (m *MemoryStore) DeleteCredential(_ context.Context, wallet, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, recordKey(wallet, provider))
	return nil
}

// Vault 组合 Sealer 与 Store。
type Vault struct {
	sealer *Sealer
	store  Store
	now    func() time.Time
}

// New 创建凭证库。sealer 为 nil 时只能查询凭证是否存在。
func New(sealer *Sealer, store Store) *Vault {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Vault{sealer: sealer, store: store, now: time.Now}
}

// Save 加密并保存凭证，value 以 JSON 编码。
func (v *Vault) Save(ctx context.Context, wallet, provider string, value any) error {
	if v.sealer == nil {
		return apperrors.New(apperrors.CodeInitializationFailure, ErrMasterSecretMissing.Error())
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "凭证提供方不能为空")
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, err, "凭证无法编码")
	}
	env, err := v.sealer.Seal(wallet, payload)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, err, "凭证加密失败")
	}
	rec := Record{Wallet: strings.ToLower(wallet), Provider: provider, Envelope: env, UpdatedAt: v.now().UTC()}
	if err := v.store.PutCredential(ctx, rec); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "保存凭证失败")
	}
	return nil
}

// Load 读取并解密凭证到 out。
func (v *Vault) Load(ctx context.Context, wallet, provider string, out any) error {
	if v.sealer == nil {
		return apperrors.New(apperrors.CodeInitializationFailure, ErrMasterSecretMissing.Error())
	}
	rec, ok, err := v.store.GetCredential(ctx, wallet, strings.ToLower(provider))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "读取凭证失败")
	}
	if !ok {
		return apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("未找到 %s 凭证", provider))
	}
	plaintext, err := v.sealer.Open(wallet, rec.Envelope)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, err, "凭证解密失败")
	}
	return json.Unmarshal(plaintext, out)
}

// Has 报告钱包是否已保存指定提供方的凭证。
func (v *Vault) Has(ctx context.Context, wallet, provider string) (bool, error) {
	_, ok, err := v.store.GetCredential(ctx, wallet, strings.ToLower(provider))
	return ok, err
}

// Remove 删除凭证。
func (v *Vault) Remove(ctx context.Context, wallet, provider string) error {
	return v.store.DeleteCredential(ctx, wallet, strings.ToLower(provider))
}
