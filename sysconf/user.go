package alpineami_sysconf

import (
	"fmt"
	"strings"

	wzlib_logger "github.com/infra-whizz/wzlib/logger"
)

const (
	DefaultUser = "alpine"
	AdminGroup  = "wheel"
)

// AdminUser is the login user of the image. It has no password and gets
// root through sudo.
type AdminUser struct {
	Name string

	root   string
	runner Runner

	wzlib_logger.WzLogger
}

func NewAdminUser(root string, runner Runner, name string) *AdminUser {
	au := new(AdminUser)
	au.root = root
	au.runner = runner
	au.Name = name
	if au.Name == "" {
		au.Name = DefaultUser
	}
	return au
}

// Create the user. The password is set to "*" so that password logins are
// impossible while key logins still pass the sshd locked-account check.
func (au *AdminUser) Create() error {
	au.GetLogger().Infof("Creating user %s", au.Name)
	for _, cmd := range [][]string{
		{"adduser", "-D", "-g", "Alpine cloud user", au.Name},
		{"addgroup", au.Name, AdminGroup},
	} {
		if err := au.runner.Run(cmd...); err != nil {
			return err
		}
	}

	if err := writeTarget(au.root, "/etc/sudoers.d/"+AdminGroup,
		fmt.Sprintf("%%%s ALL=(ALL) NOPASSWD: ALL\n", AdminGroup), 0440); err != nil {
		return err
	}

	return au.disablePassword()
}

func (au *AdminUser) disablePassword() error {
	data, err := readTarget(au.root, "/etc/shadow")
	if err != nil {
		return err
	}

	found := false
	lines := strings.Split(data, "\n")
	for idx, line := range lines {
		fields := strings.Split(line, ":")
		if len(fields) > 1 && fields[0] == au.Name {
			fields[1] = "*"
			lines[idx] = strings.Join(fields, ":")
			found = true
		}
	}
	if !found {
		return fmt.Errorf("user %s is not in the shadow file", au.Name)
	}

	return writeTarget(au.root, "/etc/shadow", strings.Join(lines, "\n"), 0640)
}
