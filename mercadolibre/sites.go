package mercadolibre

import (
	"sort"
	"strings"

	"github.com/goliatone/go-marketplace/core"
)

// APIBaseURL is shared by every site; only the authorization domain is
// country specific.
const APIBaseURL = "https://api.mercadolibre.com"

var knownSites = map[string]core.Site{
	"MLA": {ID: "MLA", Name: "Mercado Libre Argentina", Country: "AR", Currency: "ARS", AuthDomain: "https://auth.mercadolibre.com.ar", APIDomain: APIBaseURL},
	"MLB": {ID: "MLB", Name: "Mercado Livre Brasil", Country: "BR", Currency: "BRL", AuthDomain: "https://auth.mercadolivre.com.br", APIDomain: APIBaseURL},
	"MLM": {ID: "MLM", Name: "Mercado Libre Mexico", Country: "MX", Currency: "MXN", AuthDomain: "https://auth.mercadolibre.com.mx", APIDomain: APIBaseURL},
	"MLC": {ID: "MLC", Name: "Mercado Libre Chile", Country: "CL", Currency: "CLP", AuthDomain: "https://auth.mercadolibre.cl", APIDomain: APIBaseURL},
	"MCO": {ID: "MCO", Name: "Mercado Libre Colombia", Country: "CO", Currency: "COP", AuthDomain: "https://auth.mercadolibre.com.co", APIDomain: APIBaseURL},
	"MPE": {ID: "MPE", Name: "Mercado Libre Peru", Country: "PE", Currency: "PEN", AuthDomain: "https://auth.mercadolibre.com.pe", APIDomain: APIBaseURL},
	"MLU": {ID: "MLU", Name: "Mercado Libre Uruguay", Country: "UY", Currency: "UYU", AuthDomain: "https://auth.mercadolibre.com.uy", APIDomain: APIBaseURL},
	"MEC": {ID: "MEC", Name: "Mercado Libre Ecuador", Country: "EC", Currency: "USD", AuthDomain: "https://auth.mercadolibre.com.ec", APIDomain: APIBaseURL},
}

type siteDirectory struct{}

// Sites returns the static directory of supported country sites.
func Sites() core.SiteDirectory {
	return siteDirectory{}
}

func (siteDirectory) Get(siteID string) (core.Site, bool) {
	site, ok := knownSites[strings.ToUpper(strings.TrimSpace(siteID))]
	return site, ok
}

func (siteDirectory) List() []core.Site {
	ids := make([]string, 0, len(knownSites))
	for id := range knownSites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	sites := make([]core.Site, 0, len(ids))
	for _, id := range ids {
		sites = append(sites, knownSites[id])
	}
	return sites
}
