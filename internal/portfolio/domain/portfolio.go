package portfolio

import (
	"errors"
	"sort"
)

var (
	// ErrEmptyAssetID is returned when an asset id is empty.
	ErrEmptyAssetID = errors.New("portfolio: empty asset id")
	// ErrEmptyPortfolioID is returned when a portfolio id is empty.
	ErrEmptyPortfolioID = errors.New("portfolio: empty portfolio id")
)

// Asset is a generic asset able to sell flexibility. MPID is the metering
// point the asset is measured at.
type Asset struct {
	ID       string
	Metadata map[string]string
	MPID     string
}

// NewAsset constructs an asset.
func NewAsset(id string, metadata map[string]string) (*Asset, error) {
	if id == "" {
		return nil, ErrEmptyAssetID
	}
	return &Asset{ID: id, Metadata: metadata}, nil
}

// SetMPID assigns the metering point identifier.
func (a *Asset) SetMPID(mpid string) {
	a.MPID = mpid
}

// Portfolio groups assets bid as a single flexibility resource.
type Portfolio struct {
	ID       string
	Metadata map[string]string
	assets   []*Asset
}

// NewPortfolio constructs a portfolio.
func NewPortfolio(id string, metadata map[string]string) (*Portfolio, error) {
	if id == "" {
		return nil, ErrEmptyPortfolioID
	}
	return &Portfolio{ID: id, Metadata: metadata}, nil
}

// SetAssets replaces the portfolio's assets.
func (p *Portfolio) SetAssets(assets []*Asset) {
	p.assets = assets
}

// AddAsset appends an asset.
func (p *Portfolio) AddAsset(asset *Asset) {
	if asset != nil {
		p.assets = append(p.assets, asset)
	}
}

// Assets returns the portfolio's assets.
func (p *Portfolio) Assets() []*Asset {
	return p.assets
}

// AssetMPIDs returns the sorted metering point ids of the assets.
func (p *Portfolio) AssetMPIDs() []string {
	mpids := make([]string, 0, len(p.assets))
	for _, asset := range p.assets {
		mpids = append(mpids, asset.MPID)
	}
	sort.Strings(mpids)
	return mpids
}
