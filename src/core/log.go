package core

import "github.com/stubuild/stu/internal/logging"

var log = logging.Log
