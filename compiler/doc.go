/*

Process of transformation

Class (asm text, yaml or cbor model) ->
	analyze ->
Frames and Consumer Index ->
	expand ->
Expansion Set ->
	remap ->
Widened local slots ->
	rewrite patterns, rewrite calls ->
Narrow code ->
	sig ->
Transformed method copy

Every method is transformed on its own copy.
A method failing any stage keeps its original and no copy is emitted.

*/
package compiler
