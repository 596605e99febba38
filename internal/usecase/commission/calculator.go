package commission

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/timemarket-backend/internal/domain/entity"
	"github.com/ignatzorin/timemarket-backend/internal/domain/repository"
	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
	"github.com/ignatzorin/timemarket-backend/internal/logger"
	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
	"github.com/ignatzorin/timemarket-backend/internal/pkg/cache"
)

// Config: ставки по умолчанию и верхняя граница суммарной комиссии.
type Config struct {
	DefaultPlatformFeeBps  valueobject.Bps
	DefaultCommunityFeeBps valueobject.Bps
	MaxTotalFeeBps         valueobject.Bps
	// CacheTTL: сколько держать прочитанные переопределения. 0 отключает кэш.
	CacheTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultPlatformFeeBps:  valueobject.DefaultPlatformFeeBps,
		DefaultCommunityFeeBps: valueobject.DefaultCommunityFeeBps,
		MaxTotalFeeBps:         valueobject.MaxTotalFeeBps,
		CacheTTL:               30 * time.Second,
	}
}

// Validate проверяет, что сами значения по умолчанию укладываются в лимит.
func (c Config) Validate() error {
	for _, v := range []valueobject.Bps{c.DefaultPlatformFeeBps, c.DefaultCommunityFeeBps, c.MaxTotalFeeBps} {
		if _, err := valueobject.NewBps(int(v)); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeConfiguration, "некорректная ставка по умолчанию")
		}
	}
	if c.DefaultPlatformFeeBps+c.DefaultCommunityFeeBps > c.MaxTotalFeeBps {
		return apperror.Newf(apperror.ErrCodeConfiguration,
			"ставки по умолчанию %d+%d превышают максимум %d",
			c.DefaultPlatformFeeBps, c.DefaultCommunityFeeBps, c.MaxTotalFeeBps)
	}
	return nil
}

// Calculator разрешает ставки комиссий: сообщество > продавец > платформа.
// Каждая из двух ставок разрешается независимо.
type Calculator struct {
	repo    repository.CommissionRepository
	sellers repository.SellerDirectory
	cfg     Config
	cache *cache.TTL[*entity.CommissionOverride]
	now   func() time.Time
}

func NewCalculator(repo repository.CommissionRepository, sellers repository.SellerDirectory, cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{
		repo:    repo,
		sellers: sellers,
		cfg:     cfg,
		cache:   cache.New[*entity.CommissionOverride](cfg.CacheTTL),
		now:     time.Now,
	}, nil
}

func (c *Calculator) Config() Config {
	return c.cfg
}

// Close освобождает фоновые ресурсы кэша.
func (c *Calculator) Close() {
	c.cache.Close()
}

// GetEffectiveRates возвращает ставки для продавца в контексте сообщества (communityID может быть nil).
// Запись переопределений не пропускает комбинации сверх максимума. Если такая комбинация всё же
// оказалась в хранилище (например, продавца перевели в другое сообщество), возвращается CONFIGURATION_ERROR.
func (c *Calculator) GetEffectiveRates(ctx context.Context, sellerID uuid.UUID, communityID *uuid.UUID) (valueobject.EffectiveRates, error) {
	sellerOverride, err := c.override(ctx, entity.OverrideScopeSeller, sellerID)
	if err != nil {
		return valueobject.EffectiveRates{}, err
	}

	var communityOverride *entity.CommissionOverride
	if communityID != nil {
		communityOverride, err = c.override(ctx, entity.OverrideScopeCommunity, *communityID)
		if err != nil {
			return valueobject.EffectiveRates{}, err
		}
	}

	rates := c.combine(sellerOverride, communityOverride)
	if rates.TotalFeeBps > c.cfg.MaxTotalFeeBps {
		logger.Log.WithFields(logrus.Fields{
			"seller_id":         sellerID,
			"community_id":      communityID,
			"platform_fee_bps":  rates.PlatformFeeBps,
			"community_fee_bps": rates.CommunityFeeBps,
		}).Error("commission: комбинация переопределений превышает максимум")
		return valueobject.EffectiveRates{}, apperror.Wrap(apperror.ErrFeeCapExceeded, apperror.ErrCodeConfiguration,
			"суммарная комиссия для продавца превышает допустимый максимум")
	}
	return rates, nil
}

// SetSellerOverride задаёт ставки продавца. nil-ставка наследуется с уровня ниже.
func (c *Calculator) SetSellerOverride(ctx context.Context, sellerID uuid.UUID, platform, community *valueobject.Bps) (*entity.CommissionOverride, error) {
	return c.setOverride(ctx, entity.OverrideScopeSeller, sellerID, platform, community)
}

// SetCommunityOverride задаёт ставки сообщества. nil-ставка наследуется с уровня ниже.
func (c *Calculator) SetCommunityOverride(ctx context.Context, communityID uuid.UUID, platform, community *valueobject.Bps) (*entity.CommissionOverride, error) {
	return c.setOverride(ctx, entity.OverrideScopeCommunity, communityID, platform, community)
}

// ClearOverride удаляет переопределение уровня scope.
func (c *Calculator) ClearOverride(ctx context.Context, scope entity.OverrideScope, scopeID uuid.UUID) error {
	if !scope.IsValid() {
		return apperror.Newf(apperror.ErrCodeValidation, "неизвестный уровень %q", scope)
	}
	if err := c.repo.DeleteOverride(ctx, scope, scopeID); err != nil {
		return err
	}
	c.cache.Delete(cacheKey(scope, scopeID))
	return nil
}

// GetOverride возвращает переопределение уровня или nil.
func (c *Calculator) GetOverride(ctx context.Context, scope entity.OverrideScope, scopeID uuid.UUID) (*entity.CommissionOverride, error) {
	if !scope.IsValid() {
		return nil, apperror.Newf(apperror.ErrCodeValidation, "неизвестный уровень %q", scope)
	}
	return c.override(ctx, scope, scopeID)
}

func (c *Calculator) setOverride(ctx context.Context, scope entity.OverrideScope, scopeID uuid.UUID, platform, community *valueobject.Bps) (*entity.CommissionOverride, error) {
	if scopeID == uuid.Nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "идентификатор обязателен")
	}
	if platform == nil && community == nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "нужно указать хотя бы одну ставку")
	}
	for _, v := range []*valueobject.Bps{platform, community} {
		if v == nil {
			continue
		}
		if _, err := valueobject.NewBps(int(*v)); err != nil {
			return nil, err
		}
	}

	o := &entity.CommissionOverride{
		Scope:           scope,
		ScopeID:         scopeID,
		PlatformFeeBps:  platform,
		CommunityFeeBps: community,
		UpdatedAt:       c.now().UTC(),
	}
	if err := c.checkCap(ctx, o); err != nil {
		return nil, err
	}
	if err := c.repo.SaveOverride(ctx, o); err != nil {
		return nil, err
	}
	c.cache.Delete(cacheKey(scope, scopeID))

	logger.Log.WithFields(logrus.Fields{
		"scope":             scope,
		"scope_id":          scopeID,
		"platform_fee_bps":  platform,
		"community_fee_bps": community,
	}).Info("commission: переопределение сохранено")
	return o, nil
}

// checkCap проверяет новое переопределение во всех комбинациях с уже сохранёнными
// переопределениями другого уровня: продавец с сообществом из его профиля,
// сообщество со всеми продавцами, привязанными к нему.
func (c *Calculator) checkCap(ctx context.Context, o *entity.CommissionOverride) error {
	var pairs [][2]*entity.CommissionOverride

	switch o.Scope {
	case entity.OverrideScopeSeller:
		pairs = append(pairs, [2]*entity.CommissionOverride{o, nil})
		profile, err := c.sellers.FindSeller(ctx, o.ScopeID)
		if err != nil && !apperror.IsNotFound(err) {
			return err
		}
		if profile != nil && profile.CommunityID != nil {
			communityOverride, err := c.repo.FindOverride(ctx, entity.OverrideScopeCommunity, *profile.CommunityID)
			if err != nil {
				return err
			}
			if communityOverride != nil {
				pairs = append(pairs, [2]*entity.CommissionOverride{o, communityOverride})
			}
		}
	case entity.OverrideScopeCommunity:
		pairs = append(pairs, [2]*entity.CommissionOverride{nil, o})
		sellerOverrides, err := c.repo.ListSellerOverridesByCommunity(ctx, o.ScopeID)
		if err != nil {
			return err
		}
		for _, so := range sellerOverrides {
			pairs = append(pairs, [2]*entity.CommissionOverride{so, o})
		}
	}

	for _, pair := range pairs {
		rates := c.combine(pair[0], pair[1])
		if rates.TotalFeeBps <= c.cfg.MaxTotalFeeBps {
			continue
		}
		fields := logrus.Fields{
			"scope":             o.Scope,
			"scope_id":          o.ScopeID,
			"platform_fee_bps":  rates.PlatformFeeBps,
			"community_fee_bps": rates.CommunityFeeBps,
		}
		if pair[0] != nil && pair[0] != o {
			fields["seller_id"] = pair[0].ScopeID
		}
		if pair[1] != nil && pair[1] != o {
			fields["community_id"] = pair[1].ScopeID
		}
		logger.Log.WithFields(fields).Warn("commission: переопределение отклонено, превышен максимум")
		return apperror.Wrap(apperror.ErrFeeCapExceeded, apperror.ErrCodeConfiguration,
			"суммарная комиссия переопределения превышает допустимый максимум")
	}
	return nil
}

// combine разрешает ставки для пары переопределений. Любое из них может быть nil.
func (c *Calculator) combine(sellerOverride, communityOverride *entity.CommissionOverride) valueobject.EffectiveRates {
	platform, platformSource := resolve(c.cfg.DefaultPlatformFeeBps,
		pick(communityOverride, func(o *entity.CommissionOverride) *valueobject.Bps { return o.PlatformFeeBps }),
		pick(sellerOverride, func(o *entity.CommissionOverride) *valueobject.Bps { return o.PlatformFeeBps }),
	)
	community, communitySource := resolve(c.cfg.DefaultCommunityFeeBps,
		pick(communityOverride, func(o *entity.CommissionOverride) *valueobject.Bps { return o.CommunityFeeBps }),
		pick(sellerOverride, func(o *entity.CommissionOverride) *valueobject.Bps { return o.CommunityFeeBps }),
	)
	return valueobject.NewEffectiveRates(platform, community, valueobject.FeeSources{
		Platform:  platformSource,
		Community: communitySource,
	})
}

func (c *Calculator) override(ctx context.Context, scope entity.OverrideScope, scopeID uuid.UUID) (*entity.CommissionOverride, error) {
	return c.cache.GetOrSet(cacheKey(scope, scopeID), func() (*entity.CommissionOverride, error) {
		return c.repo.FindOverride(ctx, scope, scopeID)
	})
}

func cacheKey(scope entity.OverrideScope, id uuid.UUID) string {
	return string(scope) + ":" + id.String()
}

func pick(o *entity.CommissionOverride, field func(*entity.CommissionOverride) *valueobject.Bps) *valueobject.Bps {
	if o == nil {
		return nil
	}
	return field(o)
}

// resolve берёт первое заданное значение: сообщество, затем продавец, затем значение по умолчанию.
func resolve(def valueobject.Bps, fromCommunity, fromSeller *valueobject.Bps) (valueobject.Bps, valueobject.FeeSource) {
	if fromCommunity != nil {
		return *fromCommunity, valueobject.FeeSourceCommunity
	}
	if fromSeller != nil {
		return *fromSeller, valueobject.FeeSourceSeller
	}
	return def, valueobject.FeeSourceDefault
}
