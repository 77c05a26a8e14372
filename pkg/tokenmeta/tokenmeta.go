// Package tokenmeta holds metadata about the assets managed by the
// bridge: which chain each asset lives on, its issuer on the primary
// ledger, and the bridge-controlled accounts that hold deposits.
package tokenmeta

import (
	"errors"
	"strings"
	"sync"

	"github.com/openbridge/dex-middleware/pkg/db"
)

var ErrAssetNotFound = errors.New("managed asset not found")

// ManagedInfo describes one bridge-managed asset.
type ManagedInfo struct {
	AssetCode string
	Platform  db.Platform

	// IssuerAddress is the issuing account on the primary ledger.
	IssuerAddress string
	// BaseAddress receives primary-ledger deposits for de-anchoring.
	BaseAddress string
	// HolderAddress receives external-chain deposits for anchoring.
	HolderAddress string
	// ContractAddress is set for token assets on EVM chains.
	ContractAddress string

	Decimals int32
}

// Registry is an in-memory managed-asset table keyed by asset code.
type Registry struct {
	mu     sync.RWMutex
	assets map[string]ManagedInfo
	pivot  string
}

// NewRegistry builds a registry from a static asset list. pivotCode
// names the quote asset used for fee pricing.
func NewRegistry(assets []ManagedInfo, pivotCode string) *Registry {
	m := make(map[string]ManagedInfo, len(assets))
	for _, a := range assets {
		m[strings.ToUpper(a.AssetCode)] = a
	}
	return &Registry{assets: m, pivot: strings.ToUpper(pivotCode)}
}

// Get returns the managed info for an asset code.
func (r *Registry) Get(assetCode string) (ManagedInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.assets[strings.ToUpper(assetCode)]
	if !ok {
		return ManagedInfo{}, ErrAssetNotFound
	}
	return info, nil
}

// Put inserts or replaces an asset entry.
func (r *Registry) Put(info ManagedInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[strings.ToUpper(info.AssetCode)] = info
}

// PivotCode returns the asset code of the pivot (fee quote) asset.
func (r *Registry) PivotCode() string {
	return r.pivot
}

// IsPivot reports whether the asset code is the pivot asset.
func (r *Registry) IsPivot(assetCode string) bool {
	return strings.EqualFold(assetCode, r.pivot)
}

// ByHolder returns the asset whose holder address matches addr on the
// given platform. Addresses compare case-insensitively.
func (r *Registry) ByHolder(platform db.Platform, addr string) (ManagedInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, info := range r.assets {
		if info.Platform == platform && strings.EqualFold(info.HolderAddress, addr) {
			return info, nil
		}
	}
	return ManagedInfo{}, ErrAssetNotFound
}

// OnPlatform returns every managed asset on the given platform.
func (r *Registry) OnPlatform(platform db.Platform) []ManagedInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ManagedInfo
	for _, info := range r.assets {
		if info.Platform == platform {
			out = append(out, info)
		}
	}
	return out
}

// ByContract returns the token asset deployed at the given contract
// address on the given platform.
func (r *Registry) ByContract(platform db.Platform, contract string) (ManagedInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, info := range r.assets {
		if info.Platform == platform && strings.EqualFold(info.ContractAddress, contract) {
			return info, nil
		}
	}
	return ManagedInfo{}, ErrAssetNotFound
}
