package application

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

var (
	routeCountries = []string{"US", "CA", "UK", "DE", "FR", "AU", "JP"}
	routeClasses   = []string{string(domain.RouteClassResidential), string(domain.RouteClassMobile), string(domain.RouteClassDatacenter)}
	routePorts     = map[string][]int{
		"http":   {80, 8080, 8888, 3128},
		"socks5": {1080, 1081, 1082},
	}

	clientVersions = []string{"1.19.4", "1.20.1", "1.20.4", "1.21.1"}
	launchers      = []string{"Official", "MultiMC", "GDLauncher", "ATLauncher", "PrismLauncher", "TLauncher"}
	locales        = []string{"en_us", "en_gb", "de_de", "fr_fr", "ja_jp", "es_es"}
	maxFPSChoices  = []int{60, 120, 144, 240, 0}
)

// NewFaker returns a faker seeded from the shared random source so generated
// pools are reproducible under a fixed seed.
func NewFaker(random ports.Random) *gofakeit.Faker {
	return gofakeit.New(random.Int63())
}

func AccountGenerator(faker *gofakeit.Faker, clock ports.Clock) Generator[domain.AccountAttributes] {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return func(index int) (domain.ResourceID, domain.AccountAttributes) {
		id := domain.ResourceID(fmt.Sprintf("account-%03d", index+1))
		now := clock.Now()

		tier := domain.AccountTierFree
		if faker.Number(1, 10) <= 3 {
			tier = domain.AccountTierPremium
		}

		return id, domain.AccountAttributes{
			Handle:    fmt.Sprintf("%s%d", faker.Username(), faker.Number(10, 999)),
			CreatedAt: faker.DateRange(now.AddDate(-3, 0, 0), now.Add(-24*time.Hour)).UTC(),
			Tier:      tier,
		}
	}
}

func RouteGenerator(faker *gofakeit.Faker) Generator[domain.RouteAttributes] {
	return func(index int) (domain.ResourceID, domain.RouteAttributes) {
		protocol := "http"
		if faker.Bool() {
			protocol = "socks5"
		}
		choices := routePorts[protocol]

		return domain.ResourceID(fmt.Sprintf("route-%03d", index+1)), domain.RouteAttributes{
			Address:  faker.IPv4Address(),
			Port:     choices[faker.Number(0, len(choices)-1)],
			Protocol: protocol,
			Class:    domain.RouteClass(faker.RandomString(routeClasses)),
			Country:  faker.RandomString(routeCountries),
		}
	}
}

func FingerprintGenerator(faker *gofakeit.Faker) Generator[domain.FingerprintAttributes] {
	return func(index int) (domain.ResourceID, domain.FingerprintAttributes) {
		launcher := faker.RandomString(launchers)
		version := faker.RandomString(clientVersions)

		return domain.ResourceID(fmt.Sprintf("fingerprint-%03d", index+1)), domain.FingerprintAttributes{
			ClientName:     fmt.Sprintf("%s %s", launcher, version),
			ClientVersion:  version,
			Launcher:       launcher,
			Locale:         faker.RandomString(locales),
			ViewDistance:   faker.Number(4, 12),
			RenderDistance: faker.Number(4, 12),
			EntityDistance: faker.Number(0, 100),
			MaxFPS:         maxFPSChoices[faker.Number(0, len(maxFPSChoices)-1)],
		}
	}
}

// BuilderFingerprint requires the long view distance and frame rate that
// building sessions report.
func BuilderFingerprint(resource domain.Resource[domain.FingerprintAttributes]) bool {
	return resource.Attributes.ViewDistance >= 8 && resource.Attributes.HighFrameRate()
}

func ExplorerFingerprint(resource domain.Resource[domain.FingerprintAttributes]) bool {
	return resource.Attributes.RenderDistance >= 8 && resource.Attributes.EntityDistance >= 80
}
