package ports

// L7Protocol returns a short application protocol name for a resource port,
// or "unknown". Service names come from the resource directory; this is
// only a coarse label for grouping metrics across services.
func L7Protocol(proto string, port uint16) string {
	if port == 0 {
		return "na"
	}

	switch port {
	case 22:
		return "ssh"
	case 53:
		return "dns"
	case 123:
		if proto == "udp" {
			return "ntp"
		}
	case 161:
		if proto == "udp" {
			return "snmp"
		}
	case 389:
		return "ldap"
	case 445:
		return "smb"
	case 636:
		return "ldaps"
	case 1194:
		return "openvpn"
	case 1433:
		return "mssql"
	case 3306:
		return "mysql"
	case 3389:
		return "rdp"
	case 5432:
		return "postgres"
	case 5900:
		return "vnc"
	case 6379:
		return "redis"
	case 9200:
		return "elasticsearch"
	}

	if proto == "tcp" {
		switch port {
		case 20, 21:
			return "ftp"
		case 23:
			return "telnet"
		case 25, 465, 587:
			return "smtp"
		case 80, 8080:
			return "http"
		case 110:
			return "pop3"
		case 143:
			return "imap"
		case 443, 8443:
			return "https"
		case 993:
			return "imaps"
		case 995:
			return "pop3s"
		}
	}

	return "unknown"
}
