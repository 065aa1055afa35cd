// Package scripts runs the ordered startup scripts that seed the application
// after configuration is loaded.
//
// Each file in the scripts directory is a unit. Units run one at a time in
// byte-wise file-name order, so operators sequence them with numeric
// prefixes such as 000_users.yaml and 010_groups.yaml. Later units may depend
// on records created by earlier ones.
package scripts
