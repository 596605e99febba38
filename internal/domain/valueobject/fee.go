package valueobject

import "github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"

// Bps: базисные пункты, 1/100 процента.
type Bps int

const (
	BpsDenominator Bps = 10000

	DefaultPlatformFeeBps  Bps = 500
	DefaultCommunityFeeBps Bps = 1000
	MaxTotalFeeBps         Bps = 5000
)

func NewBps(v int) (Bps, error) {
	if v < 0 || Bps(v) > BpsDenominator {
		return 0, apperror.Newf(apperror.ErrCodeValidation, "ставка %d bps вне диапазона 0..%d", v, BpsDenominator)
	}
	return Bps(v), nil
}

// Of возвращает долю суммы, округлённую вниз.
func (b Bps) Of(amount Cents) Cents {
	return amount * Cents(b) / Cents(BpsDenominator)
}

// FeeSource: уровень, из которого взята ставка.
type FeeSource string

const (
	FeeSourceDefault   FeeSource = "default"
	FeeSourceSeller    FeeSource = "seller"
	FeeSourceCommunity FeeSource = "community"
)

type FeeSources struct {
	Platform  FeeSource `json:"platform"`
	Community FeeSource `json:"community"`
}

// EffectiveRates: ставки после разрешения приоритета переопределений.
type EffectiveRates struct {
	PlatformFeeBps  Bps        `json:"platform_fee_bps"`
	CommunityFeeBps Bps        `json:"community_fee_bps"`
	TotalFeeBps     Bps        `json:"total_fee_bps"`
	Source          FeeSources `json:"source"`
}

func NewEffectiveRates(platform, community Bps, source FeeSources) EffectiveRates {
	return EffectiveRates{
		PlatformFeeBps:  platform,
		CommunityFeeBps: community,
		TotalFeeBps:     platform + community,
		Source:          source,
	}
}

// FeeBreakdown: разбивка суммы на комиссии и выручку продавца.
type FeeBreakdown struct {
	GrossCents        Cents `json:"gross_cents"`
	PlatformFeeCents  Cents `json:"platform_fee_cents"`
	CommunityFeeCents Cents `json:"community_fee_cents"`
	NetCents          Cents `json:"net_cents"`
}

// SplitFees делит gross по ставкам. Каждая комиссия округляется вниз,
// остаток от округления достаётся продавцу.
func SplitFees(gross Cents, platform, community Bps) FeeBreakdown {
	platformFee := platform.Of(gross)
	communityFee := community.Of(gross)
	return FeeBreakdown{
		GrossCents:        gross,
		PlatformFeeCents:  platformFee,
		CommunityFeeCents: communityFee,
		NetCents:          gross - platformFee - communityFee,
	}
}

func (r EffectiveRates) Split(gross Cents) FeeBreakdown {
	return SplitFees(gross, r.PlatformFeeBps, r.CommunityFeeBps)
}
