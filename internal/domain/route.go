package domain

import (
	"net"
	"strconv"
)

type RouteClass string

const (
	RouteClassResidential RouteClass = "residential"
	RouteClassMobile      RouteClass = "mobile"
	RouteClassDatacenter  RouteClass = "datacenter"
)

// RouteAttributes describe one network egress route.
type RouteAttributes struct {
	Address  string
	Port     int
	Protocol string
	Class    RouteClass
	Country  string
}

func (r RouteAttributes) Endpoint() string {
	return net.JoinHostPort(r.Address, strconv.Itoa(r.Port))
}
