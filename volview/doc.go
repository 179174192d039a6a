/*
Package volview holds the common types, logging and error kinds shared by the
volume viewer packages.

Logging is leveled and package-global: Debugf, Infof, Warningf and Errorf
write to stderr unless a [logging] section in the server TOML file names a
rotating log file.

Errors returned by the decode and render pipeline are *Error values with an
ErrorKind.  Use KindOf(err) or errors.Is(err, ErrNotFound) to classify them.
*/
package volview
