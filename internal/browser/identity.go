package browser

import (
	"math/rand"
	"net/url"
	"time"

	"github.com/FranksOps/mapscrape/pkg/proxy"
	"github.com/FranksOps/mapscrape/pkg/useragent"
)

// Window size bounds for a randomized viewport.
const (
	MinWidth  = 800
	MaxWidth  = 1920
	MinHeight = 600
	MaxHeight = 1080
)

// Identity is what the session presents to the site.
type Identity struct {
	UserAgent string
	Width     int
	Height    int
	// Proxy is nil for a direct connection.
	Proxy *url.URL
}

// NewIdentity picks a random User-Agent from uas, a random window size and,
// when proxies is non-nil, the next healthy proxy.
func NewIdentity(uas *useragent.Pool, proxies *proxy.Pool) Identity {
	if uas == nil {
		uas = useragent.NewPool(nil)
	}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

	id := Identity{
		UserAgent: uas.Random(),
		Width:     MinWidth + rnd.Intn(MaxWidth-MinWidth+1),
		Height:    MinHeight + rnd.Intn(MaxHeight-MinHeight+1),
	}
	if proxies != nil {
		id.Proxy = proxies.Next()
	}
	return id
}

// hideWebdriver runs before any page script on every new document.
const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`
