package toml

import (
	"github.com/bnema/rotor/internal/domain"
)

func NewAccountRepository(path string) (*Repository[domain.AccountAttributes], error) {
	return newRepository(path, section[domain.AccountAttributes]{
		kind: domain.ResourceKindAccount,
		decode: func(file poolsFileSchema) []domain.Resource[domain.AccountAttributes] {
			out := make([]domain.Resource[domain.AccountAttributes], 0, len(file.Accounts))
			for _, entry := range file.Accounts {
				out = append(out, fromAccountSchema(entry))
			}
			return out
		},
		encode: func(file *poolsFileSchema, resources []domain.Resource[domain.AccountAttributes]) {
			file.Accounts = make([]accountSchema, 0, len(resources))
			for _, resource := range resources {
				file.Accounts = append(file.Accounts, toAccountSchema(resource))
			}
		},
	})
}

func NewRouteRepository(path string) (*Repository[domain.RouteAttributes], error) {
	return newRepository(path, section[domain.RouteAttributes]{
		kind: domain.ResourceKindRoute,
		decode: func(file poolsFileSchema) []domain.Resource[domain.RouteAttributes] {
			out := make([]domain.Resource[domain.RouteAttributes], 0, len(file.Routes))
			for _, entry := range file.Routes {
				out = append(out, fromRouteSchema(entry))
			}
			return out
		},
		encode: func(file *poolsFileSchema, resources []domain.Resource[domain.RouteAttributes]) {
			file.Routes = make([]routeSchema, 0, len(resources))
			for _, resource := range resources {
				file.Routes = append(file.Routes, toRouteSchema(resource))
			}
		},
	})
}

func NewFingerprintRepository(path string) (*Repository[domain.FingerprintAttributes], error) {
	return newRepository(path, section[domain.FingerprintAttributes]{
		kind: domain.ResourceKindFingerprint,
		decode: func(file poolsFileSchema) []domain.Resource[domain.FingerprintAttributes] {
			out := make([]domain.Resource[domain.FingerprintAttributes], 0, len(file.Fingerprints))
			for _, entry := range file.Fingerprints {
				out = append(out, fromFingerprintSchema(entry))
			}
			return out
		},
		encode: func(file *poolsFileSchema, resources []domain.Resource[domain.FingerprintAttributes]) {
			file.Fingerprints = make([]fingerprintSchema, 0, len(resources))
			for _, resource := range resources {
				file.Fingerprints = append(file.Fingerprints, toFingerprintSchema(resource))
			}
		},
	})
}

func toAccountSchema(resource domain.Resource[domain.AccountAttributes]) accountSchema {
	return accountSchema{
		ID:            string(resource.ID),
		Handle:        resource.Attributes.Handle,
		SecretRef:     resource.Attributes.SecretRef,
		CreatedAt:     formatTime(resource.Attributes.CreatedAt),
		Tier:          string(resource.Attributes.Tier),
		SuccessRate:   resource.SuccessRate,
		LastUsedAt:    formatTime(resource.LastUsedAt),
		FailureStreak: resource.FailureStreak,
	}
}

func fromAccountSchema(schema accountSchema) domain.Resource[domain.AccountAttributes] {
	tier := domain.AccountTier(schema.Tier)
	if tier == "" {
		tier = domain.AccountTierFree
	}

	return domain.Resource[domain.AccountAttributes]{
		ID: domain.ResourceID(schema.ID),
		Attributes: domain.AccountAttributes{
			Handle:    schema.Handle,
			SecretRef: schema.SecretRef,
			CreatedAt: parseTime(schema.CreatedAt),
			Tier:      tier,
		},
		SuccessRate:   domain.ClampRate(schema.SuccessRate),
		LastUsedAt:    parseTime(schema.LastUsedAt),
		FailureStreak: schema.FailureStreak,
	}
}

func toRouteSchema(resource domain.Resource[domain.RouteAttributes]) routeSchema {
	return routeSchema{
		ID:            string(resource.ID),
		Address:       resource.Attributes.Address,
		Port:          resource.Attributes.Port,
		Protocol:      resource.Attributes.Protocol,
		Class:         string(resource.Attributes.Class),
		Country:       resource.Attributes.Country,
		SuccessRate:   resource.SuccessRate,
		LastUsedAt:    formatTime(resource.LastUsedAt),
		FailureStreak: resource.FailureStreak,
	}
}

func fromRouteSchema(schema routeSchema) domain.Resource[domain.RouteAttributes] {
	return domain.Resource[domain.RouteAttributes]{
		ID: domain.ResourceID(schema.ID),
		Attributes: domain.RouteAttributes{
			Address:  schema.Address,
			Port:     schema.Port,
			Protocol: schema.Protocol,
			Class:    domain.RouteClass(schema.Class),
			Country:  schema.Country,
		},
		SuccessRate:   domain.ClampRate(schema.SuccessRate),
		LastUsedAt:    parseTime(schema.LastUsedAt),
		FailureStreak: schema.FailureStreak,
	}
}

func toFingerprintSchema(resource domain.Resource[domain.FingerprintAttributes]) fingerprintSchema {
	return fingerprintSchema{
		ID:             string(resource.ID),
		ClientName:     resource.Attributes.ClientName,
		ClientVersion:  resource.Attributes.ClientVersion,
		Launcher:       resource.Attributes.Launcher,
		Locale:         resource.Attributes.Locale,
		ViewDistance:   resource.Attributes.ViewDistance,
		RenderDistance: resource.Attributes.RenderDistance,
		EntityDistance: resource.Attributes.EntityDistance,
		MaxFPS:         resource.Attributes.MaxFPS,
		SuccessRate:    resource.SuccessRate,
		LastUsedAt:     formatTime(resource.LastUsedAt),
		FailureStreak:  resource.FailureStreak,
	}
}

func fromFingerprintSchema(schema fingerprintSchema) domain.Resource[domain.FingerprintAttributes] {
	return domain.Resource[domain.FingerprintAttributes]{
		ID: domain.ResourceID(schema.ID),
		Attributes: domain.FingerprintAttributes{
			ClientName:     schema.ClientName,
			ClientVersion:  schema.ClientVersion,
			Launcher:       schema.Launcher,
			Locale:         schema.Locale,
			ViewDistance:   schema.ViewDistance,
			RenderDistance: schema.RenderDistance,
			EntityDistance: schema.EntityDistance,
			MaxFPS:         schema.MaxFPS,
		},
		SuccessRate:   domain.ClampRate(schema.SuccessRate),
		LastUsedAt:    parseTime(schema.LastUsedAt),
		FailureStreak: schema.FailureStreak,
	}
}
